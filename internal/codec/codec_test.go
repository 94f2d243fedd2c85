package codec

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityflow/internal/relation"
	"cityflow/internal/types"
)

func TestCodec_EncodeDecode(t *testing.T) {
	c := New()
	r := relation.New([]string{"compteur_id", "debit"},
		relation.Record{"compteur_id": relation.String("A"), "debit": relation.Number(12.5)},
	)
	payload, err := c.Encode(r)
	require.NoError(t, err)

	raw, err := c.Decompress(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"compteur_id":"A","debit":12.5}]`, string(raw))

	var rows []map[string]any
	require.NoError(t, c.Decode(payload, &rows))
	assert.Equal(t, "A", rows[0]["compteur_id"])
}

func TestCodec_CompressesRepetitiveDocuments(t *testing.T) {
	c := New()
	doc := map[string]string{"text": strings.Repeat("cityflow ", 2000)}
	plain, _ := json.Marshal(doc)

	payload, err := c.Encode(doc)
	require.NoError(t, err)
	assert.Less(t, len(payload), len(plain)/10)
}

func TestCodec_DecompressGarbage(t *testing.T) {
	_, err := New().Decompress([]byte("not zstd"))
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalCodec, appErr.Code)
}

func TestCodec_EncodeUnsupported(t *testing.T) {
	_, err := New().Encode(map[string]any{"ch": make(chan int)})
	require.Error(t, err)
}
