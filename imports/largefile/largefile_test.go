package largefile

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/books_imports/config"
	"github.com/mmdatafocus/books_imports/imports/extractors"
	"github.com/mmdatafocus/books_imports/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	s := config.DefaultImportSettings()
	s.ChunkSize = 10
	s.ChunkSessionTTL = time.Hour
	return NewManager(NewMemorySessionStore(), NewMemoryChunkStore(), testutil.NewLogger(), s)
}

func chunkOf(uploadID string, n int, data []byte) ChunkUpload {
	sum := md5.Sum(data)
	return ChunkUpload{UploadID: uploadID, ChunkNumber: n, SizeBytes: int64(len(data)), HashMD5: hex.EncodeToString(sum[:])}
}

func TestChunkedUploadOutOfOrder(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	payload := []byte("0123456789abcdefghijKLMNO")

	s, err := m.Start(ctx, StartUpload{TenantID: "t1", Filename: "big.csv", TotalSize: int64(len(payload))})
	require.NoError(t, err)
	assert.Equal(t, 3, s.ExpectedChunks)
	assert.Equal(t, []int{0, 1, 2}, s.MissingChunks())

	parts := [][]byte{payload[:10], payload[10:20], payload[20:]}
	for _, n := range []int{2, 0, 0} {
		s, err = m.ReceiveChunk(ctx, "t1", chunkOf(s.UploadID, n, parts[n]), parts[n])
		require.NoError(t, err)
	}
	assert.False(t, s.IsComplete())
	assert.Equal(t, []int{1}, s.MissingChunks())

	_, _, err = m.Open(ctx, "t1", s.UploadID)
	assert.ErrorIs(t, err, ErrIncomplete)

	s, err = m.ReceiveChunk(ctx, "t1", chunkOf(s.UploadID, 1, parts[1]), parts[1])
	require.NoError(t, err)
	assert.True(t, s.IsComplete())
	assert.Empty(t, s.MissingChunks())

	rc, _, err := m.Open(ctx, "t1", s.UploadID)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReceiveChunkRejectsBadChunks(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	s, err := m.Start(ctx, StartUpload{TenantID: "t1", Filename: "f.csv", TotalSize: 15})
	require.NoError(t, err)

	good := []byte("0123456789")
	_, err = m.ReceiveChunk(ctx, "t1", chunkOf(s.UploadID, 2, []byte("abcde")), []byte("abcde"))
	assert.ErrorIs(t, err, ErrChunkOutOfRange)

	_, err = m.ReceiveChunk(ctx, "t1", chunkOf(s.UploadID, 0, []byte("short")), []byte("short"))
	assert.ErrorIs(t, err, ErrChunkSize)

	bad := chunkOf(s.UploadID, 0, good)
	bad.HashMD5 = strings.Repeat("0", 32)
	_, err = m.ReceiveChunk(ctx, "t1", bad, good)
	assert.ErrorIs(t, err, ErrChunkChecksum)

	_, err = m.ReceiveChunk(ctx, "t2", chunkOf(s.UploadID, 0, good), good)
	assert.ErrorIs(t, err, ErrWrongTenant)

	_, err = m.ReceiveChunk(ctx, "t1", chunkOf("nope", 0, good), good)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	invalid := chunkOf(s.UploadID, 0, good)
	invalid.HashMD5 = "xyz"
	_, err = m.ReceiveChunk(ctx, "t1", invalid, good)
	assert.Error(t, err)

	_, err = m.Start(ctx, StartUpload{TenantID: "t1", Filename: "f.csv"})
	assert.Error(t, err)
}

func TestPurgeExpiredSessions(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	s, err := m.Start(ctx, StartUpload{TenantID: "t1", Filename: "f.csv", TotalSize: 5})
	require.NoError(t, err)
	_, err = m.ReceiveChunk(ctx, "t1", chunkOf(s.UploadID, 0, []byte("hello")), []byte("hello"))
	require.NoError(t, err)
	fresh, err := m.Start(ctx, StartUpload{TenantID: "t1", Filename: "g.csv", TotalSize: 5})
	require.NoError(t, err)

	n, err := m.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	later := time.Now().Add(2 * time.Hour)
	m.now = func() time.Time { return later }
	_, err = m.Status(ctx, "t1", s.UploadID)
	assert.ErrorIs(t, err, ErrSessionExpired)

	n, err = m.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = m.Sessions.Get(ctx, s.UploadID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Sessions.Get(ctx, fresh.UploadID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Chunks.Open(ctx, s.UploadID, 0)
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func TestStartWithoutTTLUsesDefault(t *testing.T) {
	m := newManager(t)
	m.TTL = 0
	ctx := context.Background()
	s, err := m.Start(ctx, StartUpload{TenantID: "t1", Filename: "f.csv", TotalSize: 5})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultImportSettings().ChunkSessionTTL, s.ExpiresAt.Sub(s.CreatedAt))

	n, err := m.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = m.Status(ctx, "t1", s.UploadID)
	assert.NoError(t, err)
}

func TestSelectStrategy(t *testing.T) {
	cases := []struct {
		size int64
		want Strategy
	}{
		{0, StrategyInline},
		{10*mb - 1, StrategyInline},
		{10 * mb, StrategyChunkedUpload},
		{50*mb - 1, StrategyChunkedUpload},
		{50 * mb, StrategyStreaming},
		{100*mb - 1, StrategyStreaming},
		{100 * mb, StrategyAsyncWorker},
		{5 << 30, StrategyAsyncWorker},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, SelectStrategy(c.size), "size %d", c.size)
	}
}

func drain(t *testing.T, br BatchReader) ([][]Row, [][]int) {
	t.Helper()
	var batches [][]Row
	var lines [][]int
	for {
		rows, err := br.Next()
		if errors.Is(err, io.EOF) {
			return batches, lines
		}
		require.NoError(t, err)
		batches = append(batches, rows)
		lines = append(lines, br.Lines())
	}
}

func TestCSVBatchReader(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("\xef\xbb\xbfFecha;Concepto;Importe\n")
	for i := 1; i <= 7; i++ {
		fmt.Fprintf(&buf, "0%d/01/2024;Pago %d;-1%d,50\n", i, i, i)
		if i == 3 {
			buf.WriteString(";;\n")
		}
	}
	br, err := NewBatchReader(extractors.FormatCSVBank, &buf, 3)
	require.NoError(t, err)
	defer br.Close()
	assert.Equal(t, []string{"Fecha", "Concepto", "Importe"}, br.Headers())

	batches, lines := drain(t, br)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[1], 3)
	assert.Len(t, batches[2], 1)
	assert.Equal(t, "Pago 4", batches[1][0]["Concepto"])
	assert.Equal(t, []int{6, 7, 8}, lines[1])
	assert.Equal(t, "-17,50", batches[2][0]["Importe"])
}

func TestCSVBatchReaderHeaderless(t *testing.T) {
	data := "15/01/2024,Transferencia cliente,TRX123,,1500.00,5500.00\n16/01/2024,Comision,TRX124,2.00,,5498.00\n"
	br, err := NewBatchReader(extractors.FormatCSVBank, strings.NewReader(data), 10)
	require.NoError(t, err)
	assert.Equal(t, extractors.PositionalHeaders(6), br.Headers())

	batches, _ := drain(t, br)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, "TRX123", batches[0][0]["column_3"])

	_, err = NewBatchReader(extractors.FormatCSVInvoice, strings.NewReader("a,b\n1,2\n"), 10)
	assert.ErrorIs(t, err, ErrHeaderNotFound)
}

func TestXLSXBatchReader(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"SKU", "Nombre", "Precio"},
		{"A-1", "Cafe", 4.5},
		{nil, nil, nil},
		{"A-2", "Te", 3},
		{"A-3", "Zumo", 2.25},
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	br, err := NewBatchReader(extractors.FormatXLSXProduct, &buf, 2)
	require.NoError(t, err)
	defer br.Close()

	batches, _ := drain(t, br)
	require.Len(t, batches, 2)
	assert.Equal(t, "A-1", batches[0][0]["SKU"])
	assert.Equal(t, "Te", batches[0][1]["Nombre"])
	assert.Equal(t, "2.25", batches[1][0]["Precio"])
}

func TestJanitorSchedule(t *testing.T) {
	j := NewJanitor(newManager(t))
	assert.Error(t, j.Start("not a schedule"))
	require.NoError(t, j.Start("@every 1h"))
	j.Stop()
}
