package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goshare/internal/config"
	"github.com/bigkaa/goshare/internal/domain/filetype"
)

func testConfig() *config.Config {
	return &config.Config{
		InstanceID:        "share-1",
		BlobBackend:       config.BlobLocal,
		MetaBackend:       config.MetaFile,
		MaxFileSize:       testMaxFileSize,
		AllowedTypes:      filetype.Default(),
		MinExpiryDays:     1,
		MaxExpiryDays:     30,
		DefaultExpiryDays: 7,
	}
}

func TestGetInfo(t *testing.T) {
	env := newTestEnv(t, false)
	env.upload(t, "", "x")
	env.upload(t, "", "y", textField("expiryDays", "1"))
	env.clock.Advance(36 * time.Hour)

	disk := func() (int64, int64, int64, error) { return 1000, 400, 600, nil }
	h := NewSystemHandler(testConfig(), env.manager, disk, testLogger())

	rec := httptest.NewRecorder()
	h.GetInfo(rec, httptest.NewRequest(http.MethodGet, "/api/v1/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp infoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "share-1", resp.InstanceID)
	assert.Equal(t, "online", resp.Status)
	assert.Equal(t, "local", resp.BlobBackend)
	assert.False(t, resp.AuthEnabled)
	assert.Contains(t, resp.Limits.AllowedTypes, ".pdf")
	require.NotNil(t, resp.ActiveFiles)
	require.NotNil(t, resp.TotalFiles)
	assert.Equal(t, 1, *resp.ActiveFiles)
	assert.Equal(t, 2, *resp.TotalFiles, "просроченная, но не очищенная запись учитывается в total")
	require.NotNil(t, resp.Capacity)
	assert.Equal(t, int64(600), resp.Capacity.AvailableBytes)
}

func TestGetInfo_DiskUsageError(t *testing.T) {
	env := newTestEnv(t, false)
	disk := func() (int64, int64, int64, error) { return 0, 0, 0, errors.New("statfs") }
	h := NewSystemHandler(testConfig(), env.manager, disk, testLogger())

	rec := httptest.NewRecorder()
	h.GetInfo(rec, httptest.NewRequest(http.MethodGet, "/api/v1/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp infoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Capacity)
	assert.Equal(t, "online", resp.Status)
}
