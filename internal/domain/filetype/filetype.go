// Пакет filetype — список разрешённых типов файлов и проверка
// загружаемого содержимого по расширению и сигнатуре первых байт.
package filetype

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// HeadSize — сколько первых байт нужно для определения сигнатуры.
const HeadSize = 3072

// DefaultAllowed — список разрешённых типов по умолчанию в формате
// SH_ALLOWED_TYPES: документы, архивы, видео, изображения, текст.
const DefaultAllowed = ".pdf=application/pdf," +
	".docx=application/vnd.openxmlformats-officedocument.wordprocessingml.document," +
	".json=application/json," +
	".zip=application/zip," +
	".mp4=video/mp4," +
	".avi=video/x-msvideo," +
	".mkv=video/x-matroska," +
	".mov=video/quicktime," +
	".webm=video/webm," +
	".txt=text/plain," +
	".png=image/png," +
	".jpg=image/jpeg," +
	".jpeg=image/jpeg," +
	".gif=image/gif"

var (
	// ErrExtension — расширение файла не входит в список разрешённых.
	ErrExtension = errors.New("недопустимое расширение файла")
	// ErrSignature — содержимое не соответствует заявленному расширению.
	ErrSignature = errors.New("содержимое файла не соответствует его типу")
)

// AllowList — соответствие расширения каноническому MIME-типу.
type AllowList struct {
	byExt map[string]string
}

// Parse разбирает строку вида ".pdf=application/pdf,.png=image/png".
func Parse(raw string) (*AllowList, error) {
	a := &AllowList{byExt: make(map[string]string)}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		ext, mediaType, ok := strings.Cut(item, "=")
		ext = strings.ToLower(strings.TrimSpace(ext))
		mediaType = strings.ToLower(strings.TrimSpace(mediaType))
		if !ok || ext == "" || mediaType == "" {
			return nil, fmt.Errorf("некорректный элемент %q, ожидается .ext=type/subtype", item)
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if !strings.Contains(mediaType, "/") {
			return nil, fmt.Errorf("некорректный MIME-тип %q для %s", mediaType, ext)
		}
		a.byExt[ext] = mediaType
	}
	if len(a.byExt) == 0 {
		return nil, errors.New("список разрешённых типов пуст")
	}
	return a, nil
}

// Default возвращает список разрешённых типов по умолчанию.
func Default() *AllowList {
	a, err := Parse(DefaultAllowed)
	if err != nil {
		panic(err)
	}
	return a
}

// Check проверяет имя файла и первые байты содержимого.
// Возвращает канонический MIME-тип из списка разрешённых.
func (a *AllowList) Check(filename string, head []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	allowed, ok := a.byExt[ext]
	if !ok {
		if ext == "" {
			return "", fmt.Errorf("%w: у файла %q нет расширения", ErrExtension, filename)
		}
		return "", fmt.Errorf("%w: %s", ErrExtension, ext)
	}

	detected := mimetype.Detect(head)
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(allowed) {
			return allowed, nil
		}
	}
	return "", fmt.Errorf("%w: расширение %s, обнаружен %s", ErrSignature, ext, detected.String())
}

// Extensions возвращает отсортированный список разрешённых расширений.
func (a *AllowList) Extensions() []string {
	exts := make([]string, 0, len(a.byExt))
	for ext := range a.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// String возвращает список в формате SH_ALLOWED_TYPES.
func (a *AllowList) String() string {
	parts := make([]string, 0, len(a.byExt))
	for _, ext := range a.Extensions() {
		parts = append(parts, ext+"="+a.byExt[ext])
	}
	return strings.Join(parts, ",")
}
