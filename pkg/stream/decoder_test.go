package stream

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ryandielhenn/peersync/pkg/p2p"
)

func lines(ls ...string) string {
	return strings.Join(ls, "\n") + "\n"
}

func TestDecodeSkipsFramingLines(t *testing.T) {
	body := lines(
		`data: {"docID":"abc","error":""}`,
		`: comment`,
		`data: {"docID":"def","error":""}`,
	)
	ids, err := NewDecoder(zaptest.NewLogger(t)).DecodeString(http.StatusOK, body)
	require.NoError(t, err)
	require.Equal(t, []string{"abc", "def"}, ids)
}

func TestDecodeFailsOnRecordError(t *testing.T) {
	body := lines(
		`data: {"docID":"abc","error":""}`,
		`data: {"docID":"xyz","error":"not found"}`,
	)
	ids, err := NewDecoder(zaptest.NewLogger(t)).DecodeString(http.StatusOK, body)
	require.Error(t, err)
	require.Nil(t, ids)
	require.Contains(t, err.Error(), "xyz: not found")

	var re *RecordError
	require.True(t, errors.As(err, &re))
	require.Equal(t, "xyz", re.DocID)
}

func TestDecodeReportsEveryFailingRecord(t *testing.T) {
	body := lines(
		`data: {"docID":"a","error":"boom"}`,
		`data: {"docID":"b","error":""}`,
		`data: {"docID":"c","error":"gone"}`,
		`data: {"docID":"d","error":"locked"}`,
	)
	_, err := (&Decoder{}).DecodeString(http.StatusOK, body)
	require.Error(t, err)
	require.Equal(t, "retrieving document IDs: a: boom; c: gone; d: locked", err.Error())

	recs := RecordErrors(err)
	require.Len(t, recs, 3)
	require.Equal(t, []string{"a", "c", "d"}, []string{recs[0].DocID, recs[1].DocID, recs[2].DocID})
}

func TestDecodeKeepsOrderAndDuplicates(t *testing.T) {
	body := lines(
		`event: doc`,
		`id: 1`,
		`data: {"docID":"z","error":""}`,
		``,
		`retry: 1000`,
		`data: {"docID":"a","error":""}`,
		`   data: {"docID":"z","error":""}   `,
		`data:{"docID":"m","error":""}`,
	)
	ids, err := (&Decoder{}).DecodeString(http.StatusOK, body)
	require.NoError(t, err)
	require.Equal(t, []string{"z", "a", "z", "m"}, ids)
}

func TestDecodeIsIdempotent(t *testing.T) {
	body := lines(
		`data: {"docID":"one","error":""}`,
		`data: "two"`,
		`data: not json`,
	)
	d := NewDecoder(nil)
	first, err := d.DecodeString(http.StatusOK, body)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := d.DecodeString(http.StatusOK, body)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestDecodeFallbacks(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	body := lines(
		`data: "bae-bare"`,
		`data: {"docID":"bae-full","error":""}`,
		`data: {broken`,
		`data: {"error":"no id"}`,
		`data: null`,
		`data: 42`,
		`data:`,
	)
	ids, err := NewDecoder(zap.New(core)).DecodeString(http.StatusOK, body)
	require.NoError(t, err)
	require.Equal(t, []string{"bae-bare", "bae-full"}, ids)

	dropped := logs.FilterMessage("dropping undecodable stream record").All()
	require.Len(t, dropped, 4)
	require.Equal(t, int64(3), dropped[0].ContextMap()["line"])
}

func TestDecodeMissingErrorFieldIsSuccess(t *testing.T) {
	ids, err := (&Decoder{}).DecodeString(http.StatusOK, `data: {"docID":"abc"}`)
	require.NoError(t, err)
	require.Equal(t, []string{"abc"}, ids)
}

func TestDecodeEmptyStream(t *testing.T) {
	ids, err := (&Decoder{}).DecodeString(http.StatusOK, "")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestDecodeNonSuccessStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    p2p.Kind
		message string
	}{
		{
			name:    "structured error",
			status:  http.StatusBadRequest,
			body:    `{"error":"collection not found"}`,
			kind:    p2p.KindRejected,
			message: "list document IDs: collection not found",
		},
		{
			name:    "data lines are not decoded",
			status:  http.StatusInternalServerError,
			body:    lines(`data: {"docID":"abc","error":""}`),
			kind:    p2p.KindProtocol,
			message: `list document IDs: unexpected status 500: data: {"docID":"abc","error":""}`,
		},
		{
			name:    "raw body",
			status:  http.StatusBadGateway,
			body:    "bad gateway",
			kind:    p2p.KindProtocol,
			message: "list document IDs: unexpected status 502: bad gateway",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ids, err := (&Decoder{}).DecodeString(tc.status, tc.body)
			require.Nil(t, ids)
			require.Equal(t, tc.kind, p2p.KindOf(err))
			require.EqualError(t, err, tc.message)
		})
	}
}

func TestDecodeLongLine(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	ids, err := (&Decoder{}).DecodeString(http.StatusOK, `data: {"docID":"`+long+`","error":""}`)
	require.NoError(t, err)
	require.Equal(t, []string{long}, ids)
}

func TestDecodeSkipsOversizedLine(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	body := lines(
		`data: {"docID":"abc","error":""}`,
		": "+strings.Repeat("x", 2<<20),
		`data: {"docID":"def","error":""}`,
	)
	ids, err := NewDecoder(zap.New(core)).DecodeString(http.StatusOK, body)
	require.NoError(t, err)
	require.Equal(t, []string{"abc", "def"}, ids)
	require.Equal(t, 1, logs.FilterMessage("dropping oversized stream line").Len())
}

type failingReader struct {
	data string
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.data == "" {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestDecodeReadFailureIsTransport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind p2p.Kind
	}{
		{"deadline", context.DeadlineExceeded, p2p.KindTimeout},
		{"reset", errors.New("connection reset by peer"), p2p.KindUnreachable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body := &failingReader{data: "data: {\"docID\":\"abc\",\"error\":\"\"}\n", err: tc.err}
			ids, err := (&Decoder{}).Decode(http.StatusOK, body)
			require.Nil(t, ids)
			require.Equal(t, tc.kind, p2p.KindOf(err))
			require.ErrorIs(t, err, tc.err)
		})
	}
}
