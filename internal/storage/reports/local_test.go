package reports

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/open_chat_usage/internal/config"
)

func TestLocalStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, config.ReportsConfig{
		Storage: "local",
		Prefix:  "exports",
		Local:   config.ReportsLocalConfig{Directory: t.TempDir()},
	})
	require.NoError(t, err)

	info, err := store.Put(ctx, "admin/2025-01-01.csv", strings.NewReader("date,messages\n"), PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"range": "7d"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(14), info.Size)

	rc, got, err := store.Get(ctx, "admin/2025-01-01.csv")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "date,messages\n", string(body))
	require.Equal(t, "text/csv", got.ContentType)
	require.Equal(t, "7d", got.Metadata["range"])

	require.NoError(t, store.Delete(ctx, "admin/2025-01-01.csv"))
	_, _, err = store.Get(ctx, "admin/2025-01-01.csv")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	store, err := newLocalStore(config.ReportsConfig{Local: config.ReportsLocalConfig{Directory: t.TempDir()}})
	require.NoError(t, err)
	_, err = store.Put(context.Background(), "../outside.csv", strings.NewReader("x"), PutOptions{})
	require.Error(t, err)
}

func TestJoinKey(t *testing.T) {
	require.Equal(t, "a.csv", joinKey("", "/a.csv"))
	require.Equal(t, "exports/a.csv", joinKey("/exports/", "a.csv"))
}
