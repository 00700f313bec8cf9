package filesystem

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func TestStore_SaveAndRead(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	content := []byte("%PDF-1.4 fake report")
	blob, err := store.Save("Quarterly Report.PDF", bytes.NewReader(content))
	require.NoError(t, err)

	t.Run("记录大小和摘要", func(t *testing.T) {
		sum := blake2b.Sum256(content)
		assert.Equal(t, int64(len(content)), blob.Size)
		assert.Equal(t, hex.EncodeToString(sum[:]), blob.Checksum)
		assert.True(t, strings.HasSuffix(blob.Path, ".pdf"))
		assert.NotContains(t, blob.Path, "Quarterly")
	})

	t.Run("读回内容", func(t *testing.T) {
		data, err := store.Read(blob.Path)
		require.NoError(t, err)
		assert.Equal(t, content, data)
	})

	t.Run("删除后读取失败", func(t *testing.T) {
		require.NoError(t, store.Delete(blob.Path))
		_, err := store.Read(blob.Path)
		assert.ErrorIs(t, err, ErrBlobNotFound)
		assert.NoError(t, store.Delete(blob.Path))
	})
}

func TestStore_RejectsEscapingPaths(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	for _, path := range []string{"", "../etc/passwd", "a/../../b", "/etc/passwd"} {
		_, err := store.Open(path)
		assert.Error(t, err, path)
	}
}

func TestStore_StatsAndHealth(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("a.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	_, err = store.Save("b.txt", strings.NewReader("world!"))
	require.NoError(t, err)

	require.NoError(t, store.Health())

	files, size, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, files)
	assert.Equal(t, int64(11), size)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"普通文件名", "report.pdf", "report.pdf"},
		{"去掉目录", "../../etc/passwd", "passwd"},
		{"Windows 路径", `C:\Users\me\doc.txt`, "doc.txt"},
		{"非法字符", "a<b>c?.txt", "a_b_c_.txt"},
		{"控制字符", "a\x01b.txt", "ab.txt"},
		{"空文件名", "", "unnamed"},
		{"只有点", "...", "unnamed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.input))
		})
	}

	long := strings.Repeat("x", 300) + ".txt"
	got := SanitizeFilename(long)
	assert.Len(t, got, maxFilenameLength)
	assert.True(t, strings.HasSuffix(got, ".txt"))
}

func TestSafeExt(t *testing.T) {
	assert.Equal(t, ".pdf", safeExt("A.PDF"))
	assert.Equal(t, "", safeExt("noext"))
	assert.Equal(t, "", safeExt("weird.p$f"))
}
