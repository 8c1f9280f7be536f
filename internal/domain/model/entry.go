// Пакет model — доменные модели сервиса обмена файлами.
// FileEntry — единая запись о загруженном файле, используется всеми
// бэкендами метаданных и HTTP API.
package model

import (
	"strings"
	"time"
)

// FileEntry — метаданные загруженного файла.
// Поле StorageKey никогда не попадает в API-ответ: по нему Blob Store
// находит содержимое, и оно не выводится из публичного ID.
type FileEntry struct {
	// ID — публичный идентификатор (UUID v4), неизменяемый
	ID string `json:"id" bson:"_id"`

	// StorageKey — непрозрачный ключ содержимого в Blob Store (UUID v4)
	StorageKey string `json:"storage_key" bson:"storageKey"`

	// DisplayName — имя файла, указанное клиентом при загрузке
	DisplayName string `json:"display_name" bson:"displayName"`

	// MediaType — канонический MIME-тип из списка разрешённых типов
	MediaType string `json:"media_type" bson:"mediaType"`

	// SizeBytes — размер, измеренный при потоковой записи
	SizeBytes int64 `json:"size_bytes" bson:"sizeBytes"`

	// Checksum — SHA-256 содержимого (hex)
	Checksum string `json:"checksum" bson:"checksum"`

	// OwnerID — идентификатор владельца, nil для анонимной загрузки.
	// После создания не меняется.
	OwnerID *string `json:"owner_id,omitempty" bson:"ownerId,omitempty"`

	// DownloadCount — число начатых скачиваний
	DownloadCount int64 `json:"download_count" bson:"downloadCount"`

	// CreatedAt — время создания (UTC, точность до миллисекунд)
	CreatedAt time.Time `json:"created_at" bson:"createdAt"`

	// ExpiresAt — момент, после которого запись считается мёртвой
	ExpiresAt time.Time `json:"expires_at" bson:"expiresAt"`
}

// IsExpired проверяет, истёк ли срок жизни записи.
// Запись жива ровно до ExpiresAt включительно.
func (e *FileEntry) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// IsAnonymous сообщает, что у записи нет владельца.
func (e *FileEntry) IsAnonymous() bool {
	return e.OwnerID == nil
}

// OwnedBy проверяет, что запись принадлежит указанному владельцу.
func (e *FileEntry) OwnedBy(owner string) bool {
	return e.OwnerID != nil && *e.OwnerID == owner
}

// Clone возвращает независимую копию записи.
func (e *FileEntry) Clone() *FileEntry {
	c := *e
	if e.OwnerID != nil {
		owner := *e.OwnerID
		c.OwnerID = &owner
	}
	return &c
}

// ShareReference строит публичную ссылку на запись из базового URL
// и ID. Ссылка нигде не хранится.
func ShareReference(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + "/file/" + id
}

// PublicEntry — представление записи в ответах API.
type PublicEntry struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"displayName"`
	MediaType      string    `json:"mediaType"`
	SizeBytes      int64     `json:"sizeBytes"`
	Checksum       string    `json:"checksum"`
	OwnerID        *string   `json:"ownerId"`
	DownloadCount  int64     `json:"downloadCount"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	ShareReference string    `json:"shareReference"`
}

// Public формирует публичное представление записи.
func (e *FileEntry) Public(baseURL string) PublicEntry {
	return PublicEntry{
		ID:             e.ID,
		DisplayName:    e.DisplayName,
		MediaType:      e.MediaType,
		SizeBytes:      e.SizeBytes,
		Checksum:       e.Checksum,
		OwnerID:        e.OwnerID,
		DownloadCount:  e.DownloadCount,
		CreatedAt:      e.CreatedAt,
		ExpiresAt:      e.ExpiresAt,
		ShareReference: ShareReference(baseURL, e.ID),
	}
}

// LegacyEntry — представление записи для маршрутов /api/files
// исходного веб-клиента. Ключ содержимого (поле path клиента) не
// выдаётся, uniqueId совпадает с _id.
type LegacyEntry struct {
	ID            string    `json:"_id"`
	UniqueID      string    `json:"uniqueId"`
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	Size          int64     `json:"size"`
	User          *string   `json:"user"`
	DownloadCount int64     `json:"downloadCount"`
	ExpiresAt     time.Time `json:"expiresAt"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	ShareURL      string    `json:"shareUrl"`
}

// Legacy формирует представление для исходного веб-клиента.
// Запись после создания не меняется, кроме счётчика, поэтому
// UpdatedAt равен CreatedAt.
func (e *FileEntry) Legacy(baseURL string) LegacyEntry {
	return LegacyEntry{
		ID:            e.ID,
		UniqueID:      e.ID,
		Name:          e.DisplayName,
		Type:          e.MediaType,
		Size:          e.SizeBytes,
		User:          e.OwnerID,
		DownloadCount: e.DownloadCount,
		ExpiresAt:     e.ExpiresAt,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.CreatedAt,
		ShareURL:      ShareReference(baseURL, e.ID),
	}
}
