// Package stream decodes the line-oriented event stream a node sends when
// it lists the document identifiers of a collection.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ryandielhenn/peersync/internal/telemetry"
	"github.com/ryandielhenn/peersync/pkg/p2p"
)

const (
	dataMarker = "data:"
	maxLine    = 1 << 20
	readBuffer = 64 * 1024
	op         = "list document IDs"
)

// Record is one decoded unit of the stream. A non-empty Error marks this
// record as failed, not the whole stream.
type Record struct {
	DocID string `json:"docID"`
	Error string `json:"error"`
}

// RecordError is the failure reported for one record.
type RecordError struct {
	DocID   string
	Message string
}

func (e *RecordError) Error() string {
	return e.DocID + ": " + e.Message
}

// Decoder turns a response into identifiers. The zero value is usable and
// does not log.
type Decoder struct {
	logger *zap.Logger
}

func NewDecoder(logger *zap.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// DecodeString is Decode over an in-memory body.
func (d *Decoder) DecodeString(status int, body string) ([]string, error) {
	return d.Decode(status, strings.NewReader(body))
}

// Decode returns the identifiers carried by body in line order, duplicates
// included. Lines without the data marker are framing and skipped silently;
// undecodable or oversized lines are logged and skipped. If any record
// reports an error the call fails with every failing record joined into one
// error. A failure reading body is a transport error.
func (d *Decoder) Decode(status int, body io.Reader) ([]string, error) {
	if status < 200 || status > 299 {
		return nil, d.decodeFailure(status, body)
	}

	var (
		ids  []string
		errs error
		n    int
	)
	handle := func(line string) {
		payload, ok := strings.CutPrefix(strings.TrimSpace(line), dataMarker)
		if !ok {
			return
		}
		payload = strings.TrimSpace(payload)
		if payload == "" {
			return
		}

		rec, err := parseRecord(payload)
		switch {
		case err == nil && rec.Error == "":
			ids = append(ids, rec.DocID)
			telemetry.StreamRecords.WithLabelValues("ok").Inc()
		case err == nil:
			errs = multierr.Append(errs, &RecordError{DocID: rec.DocID, Message: rec.Error})
			telemetry.StreamRecords.WithLabelValues("failed").Inc()
		default:
			// older nodes sent bare quoted identifiers
			var bare string
			if strings.HasPrefix(payload, `"`) && json.Unmarshal([]byte(payload), &bare) == nil {
				ids = append(ids, bare)
				telemetry.StreamRecords.WithLabelValues("ok").Inc()
				return
			}
			d.log().Warn("dropping undecodable stream record",
				zap.Int("line", n),
				zap.String("payload", payload),
				zap.Error(err),
			)
			telemetry.StreamRecords.WithLabelValues("dropped").Inc()
		}
	}

	br := bufio.NewReaderSize(body, readBuffer)
	for {
		line, tooLong, err := readLine(br, maxLine)
		if len(line) > 0 || tooLong {
			n++
		}
		switch {
		case tooLong:
			d.log().Warn("dropping oversized stream line", zap.Int("line", n), zap.Int("limit", maxLine))
			telemetry.StreamRecords.WithLabelValues("dropped").Inc()
		case len(line) > 0:
			handle(string(line))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, p2p.Transport(op, fmt.Errorf("reading stream: %w", err))
		}
	}
	if errs != nil {
		return nil, fmt.Errorf("retrieving document IDs: %w", errs)
	}
	return ids, nil
}

// readLine returns the next line, terminator included. A line longer than
// limit is consumed to its end and reported as too long with no content.
func readLine(r *bufio.Reader, limit int) ([]byte, bool, error) {
	var (
		line    []byte
		tooLong bool
	)
	for {
		frag, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(frag) > limit {
				tooLong, line = true, nil
			} else {
				line = append(line, frag...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLong, err
	}
}

func (d *Decoder) log() *zap.Logger {
	if d == nil || d.logger == nil {
		return zap.NewNop()
	}
	return d.logger
}

var errNoDocID = errors.New("record has no docID")

func parseRecord(payload string) (Record, error) {
	var raw struct {
		DocID *string `json:"docID"`
		Error string  `json:"error"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return Record{}, err
	}
	if raw.DocID == nil {
		return Record{}, errNoDocID
	}
	return Record{DocID: *raw.DocID, Error: raw.Error}, nil
}

func (d *Decoder) decodeFailure(status int, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return &p2p.Error{Op: op, Kind: p2p.KindProtocol, Status: status, Err: fmt.Errorf("reading error body: %w", err)}
	}
	var eb p2p.ErrorBody
	if json.Unmarshal(bytes.TrimSpace(data), &eb) == nil && eb.Error != "" {
		return p2p.Rejection(op, status, eb.Error)
	}
	return p2p.Unexpected(op, status, data)
}

// RecordErrors returns the per-record failures inside an error returned by
// Decode.
func RecordErrors(err error) []*RecordError {
	var out []*RecordError
	for _, e := range multierr.Errors(errors.Unwrap(err)) {
		var re *RecordError
		if errors.As(e, &re) {
			out = append(out, re)
		}
	}
	return out
}
