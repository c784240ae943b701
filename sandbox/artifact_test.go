package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRetrieverWithContainer(t *testing.T) (*ArtifactRetriever, *fakeEngine, string) {
	t.Helper()

	eng := newFakeEngine()
	id, err := eng.CreateContainer(context.Background(), containerSpecForTest())
	require.NoError(t, err)
	return NewArtifactRetriever(zaptest.NewLogger(t), eng), eng, id
}

func TestArtifactRetrieverFetch(t *testing.T) {
	t.Run("PresentFile", func(t *testing.T) {
		retriever, eng, id := newRetrieverWithContainer(t)
		eng.putFile(id, "/tmp/result.txt", []byte("22/tcp open ssh\n"))

		artifact, err := retriever.Fetch(context.Background(), id, "/tmp/result.txt")
		require.NoError(t, err)
		assert.True(t, artifact.Present)
		assert.Equal(t, "22/tcp open ssh\n", artifact.Content)
		assert.Equal(t, "/tmp/result.txt", artifact.Path)
	})

	t.Run("PathNotFound", func(t *testing.T) {
		retriever, _, id := newRetrieverWithContainer(t)

		artifact, err := retriever.Fetch(context.Background(), id, "/tmp/never_written.txt")
		require.NoError(t, err)
		assert.False(t, artifact.Present)
		assert.Empty(t, artifact.Content)
	})

	t.Run("EmptyArchive", func(t *testing.T) {
		retriever, eng, id := newRetrieverWithContainer(t)
		eng.putEmptyArchive(id, "/tmp/ghost.txt")

		artifact, err := retriever.Fetch(context.Background(), id, "/tmp/ghost.txt")
		require.NoError(t, err)
		assert.False(t, artifact.Present)
	})

	t.Run("InvalidUTF8Substituted", func(t *testing.T) {
		retriever, eng, id := newRetrieverWithContainer(t)
		eng.putFile(id, "/tmp/raw.bin", []byte{0xff, 0xfe, 'o', 'k', 0xc3})

		artifact, err := retriever.Fetch(context.Background(), id, "/tmp/raw.bin")
		require.NoError(t, err, "invalid byte sequences must never be fatal")
		assert.True(t, artifact.Present)
		assert.True(t, utf8.ValidString(artifact.Content))
		assert.Contains(t, artifact.Content, "ok")
		assert.Contains(t, artifact.Content, "�")
	})

	t.Run("SkipsNonRegularEntries", func(t *testing.T) {
		// The engine serves directories as archives whose first entry
		// is the directory header itself.
		var buf bytes.Buffer
		tw := tar.NewWriter(&buf)
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     "out/",
			Typeflag: tar.TypeDir,
			Mode:     0755,
		}))
		content := []byte("inner\n")
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     "out/file.txt",
			Typeflag: tar.TypeReg,
			Mode:     0644,
			Size:     int64(len(content)),
		}))
		_, err := tw.Write(content)
		require.NoError(t, err)
		require.NoError(t, tw.Close())

		retriever := NewArtifactRetriever(zaptest.NewLogger(t), &streamEngine{stream: buf.Bytes()})
		artifact, err := retriever.Fetch(context.Background(), "whatever", "/tmp/out")
		require.NoError(t, err)
		assert.True(t, artifact.Present)
		assert.Equal(t, "inner\n", artifact.Content)
	})

	t.Run("CorruptArchive", func(t *testing.T) {
		retriever := NewArtifactRetriever(zaptest.NewLogger(t),
			&streamEngine{stream: []byte("this is not a tar archive")})

		_, err := retriever.Fetch(context.Background(), "whatever", "/tmp/out")
		require.Error(t, err)
	})
}

// streamEngine serves a fixed byte stream from CopyFromContainer.
type streamEngine struct {
	fakeEngine
	stream []byte
}

func (s *streamEngine) CopyFromContainer(_ context.Context, _, _ string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.stream)), nil
}
