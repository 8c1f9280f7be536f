package lifecycle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"io"
)

// errTooLarge возвращается читателем при превышении лимита размера.
var errTooLarge = errors.New("превышен максимальный размер файла")

// limitReader пропускает не больше limit байт. В отличие от io.LimitReader
// превышение — ошибка, а не тихий EOF: обрезанный файл не должен сохраниться.
type limitReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, errTooLarge
	}
	// Читаем на байт больше остатка, чтобы заметить превышение
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, errTooLarge
	}
	return n, err
}

// measuringReader считает размер и SHA-256 прочитанного потока.
type measuringReader struct {
	r    io.Reader
	h    hash.Hash
	size int64
}

func newMeasuringReader(r io.Reader) *measuringReader {
	return &measuringReader{r: r, h: sha256.New()}
}

func (m *measuringReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if n > 0 {
		m.h.Write(p[:n])
		m.size += int64(n)
	}
	return n, err
}

// Checksum возвращает SHA-256 в hex.
func (m *measuringReader) Checksum() string {
	return hex.EncodeToString(m.h.Sum(nil))
}
