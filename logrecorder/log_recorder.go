package logrecorder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel   = "TCUCFG_LOG_LEVEL"
	EnvLogNoColor = "TCUCFG_LOG_NOCOLOR"
)

// Options 描述日志输出位置
type Options struct {
	Dir     string    // 日志根目录；为空时只输出到控制台
	Prefix  string    // 日志文件前缀名
	Level   string    // trace/debug/info/warn/error/disabled
	NoColor bool      // 关闭控制台颜色
	Console io.Writer // 控制台输出，默认 os.Stderr
}

// Recorder 持有全局 logger 以及可选的日志文件
type Recorder struct {
	Logger zerolog.Logger
	Path   string // 日志文件路径；没有文件时为空
	file   *os.File
}

// NowString 返回当前时间格式为 "20060102_1504" 的字符串
func NowString() string {
	return time.Now().Format("20060102_1504")
}

// MakeDir 在 base 下创建以日期命名的目录（如：2025_04_25）
func MakeDir(base string) (string, error) {
	fullPath := filepath.Join(base, time.Now().Format("2006_01_02"))
	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return "", fmt.Errorf("创建文件夹失败: %w", err)
	}
	return fullPath, nil
}

// New 初始化日志记录器。环境变量 TCUCFG_LOG_LEVEL / TCUCFG_LOG_NOCOLOR 优先于 opts
func New(opts Options) (*Recorder, error) {
	applyEnvOverrides(&opts)

	level, ok := ParseLevel(opts.Level)
	if !ok && strings.TrimSpace(opts.Level) != "" {
		return nil, fmt.Errorf("unknown log level %q", opts.Level)
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	var out io.Writer = zerolog.ConsoleWriter{
		Out:        console,
		NoColor:    opts.NoColor,
		TimeFormat: "15:04:05.000",
	}

	r := &Recorder{}
	if opts.Dir != "" {
		dir, err := MakeDir(opts.Dir)
		if err != nil {
			return nil, err
		}
		r.Path = filepath.Join(dir, fmt.Sprintf("%s%s.log", opts.Prefix, NowString()))
		f, err := os.OpenFile(r.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("打开日志文件失败: %w", err)
		}
		r.file = f
		// 文件中保留 JSON 行，方便事后检索 TX/RX 报文
		out = zerolog.MultiLevelWriter(out, f)
	}

	r.Logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	return r, nil
}

// Close 关闭日志文件
func (r *Recorder) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func applyEnvOverrides(opts *Options) {
	if raw := os.Getenv(EnvLogLevel); strings.TrimSpace(raw) != "" {
		opts.Level = raw
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		opts.NoColor = v
	}
}

// ParseLevel maps a level name to zerolog; the empty string yields info.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
