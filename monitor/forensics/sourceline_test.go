package forensics

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

func TestRelativeCandidates(t *testing.T) {
	assert.Equal(t,
		[]string{filepath.FromSlash("lib/models/product.dart"), filepath.FromSlash("models/product.dart")},
		relativeCandidates("package:shop/models/product.dart"))
	assert.Equal(t,
		[]string{filepath.FromSlash("src/app/decode.go"), filepath.FromSlash("app/decode.go"), "decode.go"},
		relativeCandidates("/src/app/decode.go"))
	assert.Empty(t, relativeCandidates("package:shop"))
	assert.Empty(t, relativeCandidates(""))
}

func TestWithin(t *testing.T) {
	root := filepath.FromSlash("/srv/app")
	assert.True(t, within(root, filepath.FromSlash("/srv/app/lib/a.dart")))
	assert.False(t, within(root, filepath.FromSlash("/srv/other/a.dart")))
	assert.False(t, within(root, filepath.FromSlash("/srv/app/../secret")))
}

func TestReadSourceLine(t *testing.T) {
	root := writeProductSource(t)

	t.Run("package uri", func(t *testing.T) {
		line, err := readSourceLine(context.Background(), []string{root}, types.StackFrame{FileName: "package:shop/models/product.dart", LineNumber: 3})
		require.NoError(t, err)
		assert.Contains(t, line, "json['price']")
	})

	t.Run("found by directory search", func(t *testing.T) {
		line, err := readSourceLine(context.Background(), []string{root}, types.StackFrame{FileName: "product.dart", LineNumber: 1})
		require.NoError(t, err)
		assert.Equal(t, "class Product {", line)
	})

	t.Run("line out of range", func(t *testing.T) {
		_, err := readSourceLine(context.Background(), []string{root}, types.StackFrame{FileName: "package:shop/models/product.dart", LineNumber: 99})
		assert.ErrorIs(t, err, errLineOutOfRange)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readSourceLine(context.Background(), []string{root}, types.StackFrame{FileName: "nope.dart", LineNumber: 1})
		assert.ErrorIs(t, err, errSourceNotFound)
	})

	t.Run("skipped directories", func(t *testing.T) {
		dir := filepath.Join(root, "build")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "generated.dart"), []byte("x\n"), 0o644))
		_, err := readSourceLine(context.Background(), []string{root}, types.StackFrame{FileName: "generated.dart", LineNumber: 1})
		assert.ErrorIs(t, err, errSourceNotFound)
	})
}
