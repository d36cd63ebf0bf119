package ocr

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"verification-service/pkg/xerrors"
)

func tinyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.Black)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type ocrStub struct {
	storageAuth string
	ocrAuth     string
	whitelist   string
	dpi         string
	imageWidth  int
}

func newOCRServer(t *testing.T, stub *ocrStub, img []byte, confidence float64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/storage/render/image/authenticated/receipts/u1/slip.png", func(w http.ResponseWriter, r *http.Request) {
		stub.storageAuth = r.Header.Get("Authorization")
		_, _ = w.Write(img)
	})
	mux.HandleFunc("/ocr", func(w http.ResponseWriter, r *http.Request) {
		stub.ocrAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(32<<20))
		stub.whitelist = r.FormValue("whitelist")
		stub.dpi = r.FormValue("dpi")

		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		if decoded, _, err := image.Decode(bytes.NewReader(data)); err == nil {
			stub.imageWidth = decoded.Bounds().Dx()
		}

		_ = json.NewEncoder(w).Encode(map[string]any{"text": "BML\nStatus: Successful", "confidence": confidence})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return httptest.NewServer(mux)
}

func newTestExtractor(srv *httptest.Server) *Extractor {
	logger := zap.NewNop()
	return NewExtractor(
		NewStorageClient(srv.URL+"/storage", "receipts", "service-key", 5*time.Second, logger),
		NewClient(srv.URL+"/ocr", "ocr-key", 5*time.Second, logger),
		5*time.Second,
		logger,
	)
}

func TestExtractText(t *testing.T) {
	stub := &ocrStub{}
	srv := newOCRServer(t, stub, tinyPNG(t, 40, 20), 92)
	defer srv.Close()

	res, err := newTestExtractor(srv).ExtractText(context.Background(), "u1/slip.png")
	require.NoError(t, err)

	assert.Equal(t, "BML\nStatus: Successful", res.Text)
	assert.InDelta(t, 0.92, res.Confidence, 1e-9)
	assert.Equal(t, "Bearer service-key", stub.storageAuth)
	assert.Equal(t, "Bearer ocr-key", stub.ocrAuth)
	assert.Equal(t, Whitelist, stub.whitelist)
	assert.Equal(t, "300", stub.dpi)
	assert.Equal(t, minOCRWidth, stub.imageWidth)
}

func TestExtractText_FailuresAreTransient(t *testing.T) {
	stub := &ocrStub{}
	srv := newOCRServer(t, stub, tinyPNG(t, 4, 4), 0.9)
	defer srv.Close()

	_, err := newTestExtractor(srv).ExtractText(context.Background(), "u1/missing.png")
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerrors.ErrTransient))

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte("not an image"))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	logger := zap.NewNop()
	ex := NewExtractor(
		NewStorageClient(broken.URL, "receipts", "", time.Second, logger),
		NewClient(broken.URL, "", time.Second, logger),
		time.Second,
		logger,
	)
	_, err = ex.ExtractText(context.Background(), "u1/slip.png")
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerrors.ErrTransient))
	assert.Contains(t, err.Error(), "status 502")
}

func TestPreprocess(t *testing.T) {
	raw := []byte("definitely not an image")
	out, ct, err := Preprocess(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
	assert.Empty(t, ct)

	wide := tinyPNG(t, minOCRWidth+10, 2)
	out, ct, err = Preprocess(wide)
	require.NoError(t, err)
	assert.Equal(t, wide, out)
	assert.Equal(t, "image/png", ct)

	out, ct, err = Preprocess(tinyPNG(t, 100, 50))
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	img, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, minOCRWidth, img.Bounds().Dx())
	assert.Equal(t, 800, img.Bounds().Dy())
}

func TestPreprocess_BoundsOutput(t *testing.T) {
	// A one-pixel-wide strip must not be blown up to minOCRWidth.
	strip := tinyPNG(t, 1, 60000)
	out, ct, err := Preprocess(strip)
	require.NoError(t, err)
	assert.Equal(t, strip, out)
	assert.Equal(t, "image/png", ct)

	out, _, err = Preprocess(tinyPNG(t, 100, 1000))
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 600, img.Bounds().Dx())
	assert.Equal(t, maxOCRHeight, img.Bounds().Dy())
}

func TestPreprocess_RejectsOversizedSource(t *testing.T) {
	huge := pngHeader(t, 20000, 20000)

	out, ct, err := Preprocess(huge)
	require.ErrorIs(t, err, ErrImageTooLarge)
	assert.Equal(t, huge, out)
	assert.Equal(t, "image/png", ct)
}

func TestUpscaleBox(t *testing.T) {
	tests := []struct {
		w, h         int
		wantW, wantH int
		grow         bool
	}{
		{100, 50, 1600, 800, true},
		{100, 1000, 600, 6000, true},
		{1, 60000, 1, 60000, false},
		{2000, 100, 2000, 100, false},
		{800, 6000, 800, 6000, false},
	}

	for _, tt := range tests {
		w, h, grow := upscaleBox(tt.w, tt.h)
		assert.Equal(t, tt.grow, grow, "%dx%d", tt.w, tt.h)
		assert.LessOrEqual(t, h, max(tt.h, maxOCRHeight))
		if grow {
			assert.Equal(t, tt.wantW, w, "%dx%d", tt.w, tt.h)
			assert.Equal(t, tt.wantH, h, "%dx%d", tt.w, tt.h)
		}
	}
}

// pngHeader returns a PNG signature and IHDR chunk only. DecodeConfig reads
// nothing more.
func pngHeader(t *testing.T, w, h uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	ihdr := make([]byte, 17)
	copy(ihdr, "IHDR")
	binary.BigEndian.PutUint32(ihdr[4:], w)
	binary.BigEndian.PutUint32(ihdr[8:], h)
	ihdr[12] = 8 // bit depth
	ihdr[13] = 0 // grayscale

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, 13)
	buf.Write(length)
	buf.Write(ihdr)
	crc := make([]byte, 4)
	binary.BigEndian.PutUint32(crc, crc32.ChecksumIEEE(ihdr))
	buf.Write(crc)
	return buf.Bytes()
}

func TestStorageObjectURL(t *testing.T) {
	c := NewStorageClient("https://store.example/storage/v1/", "receipts", "", time.Second, zap.NewNop())

	assert.Equal(t, "https://store.example/storage/v1/render/image/authenticated/receipts/u1/a%20b.png", c.objectURL("/u1/a b.png"))
	assert.Equal(t, "https://signed.example/x?token=1", c.objectURL("https://signed.example/x?token=1"))
}
