package tcuclient

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// WriteRequest names one parameter to write before the read pass.
type WriteRequest struct {
	Name  string
	Value string
}

// Plan describes one run. Without Write only the read pass is done.
type Plan struct {
	Write *WriteRequest
}

// WriteReport is the outcome of the optional write.
type WriteReport struct {
	Descriptor Descriptor
	Ack        []byte
	Err        error
}

// ParameterReport is the outcome of one read.
type ParameterReport struct {
	ReadResult
	Err error
}

// Report collects everything a run produced, in execution order.
type Report struct {
	SessionAck []byte
	SessionErr error
	Write      *WriteReport
	Reads      []ParameterReport
}

// Failed returns the reads that did not produce a value.
func (r *Report) Failed() []ParameterReport {
	var failed []ParameterReport
	for _, p := range r.Reads {
		if p.Err != nil {
			failed = append(failed, p)
		}
	}
	return failed
}

// Run starts port, opens the session, performs the optional write and then
// reads every registered parameter in declaration order. Read failures are
// recorded and the pass continues; only a *TransportError aborts. The port is
// stopped exactly once on every path after Start was attempted.
func Run(port Port, registry *Registry, plan Plan, opts Options, logger zerolog.Logger) (report *Report, err error) {
	if registry == nil {
		return nil, errors.New("registry must not be nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	var target Descriptor
	var value []byte
	if plan.Write != nil {
		target, err = registry.Find(plan.Write.Name)
		if err != nil {
			return nil, err
		}
		if !target.Writable {
			return nil, fmt.Errorf("%w: %s", ErrNotWritable, target.Name)
		}
		value = []byte(plan.Write.Value)
		if _, err := Encode(target, value); err != nil {
			return nil, err
		}
	}

	startErr := port.Start()
	defer func() {
		if stopErr := port.Stop(); stopErr != nil {
			logger.Warn().Err(stopErr).Msg("failed to stop transport")
		}
	}()
	if startErr != nil {
		return nil, &TransportError{Op: "start", Err: startErr}
	}

	client := NewClient(port, opts, logger)
	report = &Report{}

	report.SessionAck, report.SessionErr = client.StartSession()
	if isTransport(report.SessionErr) {
		return report, report.SessionErr
	}

	if plan.Write != nil {
		ack, werr := client.WriteParameter(target, value)
		report.Write = &WriteReport{Descriptor: target, Ack: ack, Err: werr}
		if isTransport(werr) {
			return report, werr
		}
		if werr != nil {
			logger.Error().Err(werr).Str("name", target.Name).Msg("write failed, continuing with read pass")
		}
	}

	logger.Info().Int("count", registry.Len()).Msg("reading all config items")
	for _, desc := range registry.List() {
		res, rerr := client.ReadParameter(desc)
		report.Reads = append(report.Reads, ParameterReport{ReadResult: res, Err: rerr})
		if isTransport(rerr) {
			return report, rerr
		}
		if rerr != nil {
			logger.Error().Err(rerr).Str("name", desc.Name).Msg("read failed")
			continue
		}
		logger.Debug().Str("name", desc.Name).Str("value", res.Value.String()).Int("attempts", res.Attempts).Msg("read ok")
	}
	return report, nil
}

func isTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
