package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkEmptyFileProducesNoChunks(t *testing.T) {
	c := New(Options{})
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "empty.go", Language: "go"})
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestChunkBinaryFileIsSkipped(t *testing.T) {
	c := New(Options{})
	defer c.Close()

	binary := append([]byte("PK\x03\x04"), make([]byte, 100)...)
	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "archive.zip", Content: binary, Language: "other"})
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestChunkGoFileProducesNonOverlappingOrderedChunks(t *testing.T) {
	c := New(Options{})
	defer c.Close()

	src := `package main

import "fmt"

func add(a, b int) int {
	return a + b
}

func sub(a, b int) int {
	return a - b
}
`
	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "math.go", Content: []byte(src), Language: "go"})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for i, ch := range chunks {
		require.LessOrEqual(t, ch.LineStart, ch.LineEnd)
		require.NotEmpty(t, ch.ChunkID)
		if i > 0 {
			require.Less(t, chunks[i-1].LineEnd, ch.LineStart, "chunks must not share a line")
		}
	}
}

func TestChunkIDStableAcrossReindexOfIdenticalBytes(t *testing.T) {
	c := New(Options{})
	defer c.Close()

	src := []byte("package main\n\nfunc hello() {\n\tprintln(\"hi\")\n}\n")
	first, err := c.Chunk(context.Background(), &FileInput{Path: "hello.go", Content: src, Language: "go"})
	require.NoError(t, err)
	second, err := c.Chunk(context.Background(), &FileInput{Path: "hello.go", Content: src, Language: "go"})
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	idsFirst := make([]string, len(first))
	idsSecond := make([]string, len(second))
	for i := range first {
		idsFirst[i] = first[i].ChunkID
		idsSecond[i] = second[i].ChunkID
	}
	require.Equal(t, idsFirst, idsSecond)
}

func TestChunkFallsBackToDelimiterProfileForUnknownGrammar(t *testing.T) {
	c := New(Options{})
	defer c.Close()

	src := `# connect to the primary database
def connect_db():
    pass

# run the migration
def migrate():
    pass
`
	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "script.rb", Content: []byte(src), Language: "ruby"})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
}

func TestChunkFallsBackToSlidingWindowForPlainText(t *testing.T) {
	c := New(Options{MaxChunkTokens: 20, OverlapTokens: 4})
	defer c.Close()

	var src string
	for i := 0; i < 200; i++ {
		src += "this is a line of plain text in a readme file\n"
	}
	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "README.txt", Content: []byte(src), Language: "text"})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
}

func TestChunkPythonNestedClassMethodsDoNotOverlap(t *testing.T) {
	c := New(Options{})
	defer c.Close()

	src := `class Greeter:
    """Greets people."""

    def __init__(self, name):
        self.name = name

    def greet(self):
        return "hello " + self.name


def standalone():
    return 42
`
	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "greeter.py", Content: []byte(src), Language: "python"})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	assertNonOverlapping(t, chunks)

	// The class is chunked as a single unit; its methods must not also
	// appear as their own chunks with line ranges inside the class's.
	for _, ch := range chunks {
		if ch.ChunkName == "greeter.py:Greeter" {
			continue
		}
		for _, other := range chunks {
			if other.ChunkName == "greeter.py:Greeter" && ch != other {
				require.False(t, ch.LineStart >= other.LineStart && ch.LineEnd <= other.LineEnd,
					"chunk %q must not be nested inside chunk %q", ch.ChunkName, other.ChunkName)
			}
		}
	}
}

func TestChunkTypeScriptNestedClassMethodsDoNotOverlap(t *testing.T) {
	c := New(Options{})
	defer c.Close()

	src := `class Greeter {
  name: string;

  constructor(name: string) {
    this.name = name;
  }

  greet(): string {
    return "hello " + this.name;
  }
}

function standalone(): number {
  return 42;
}
`
	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "greeter.ts", Content: []byte(src), Language: "typescript"})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	assertNonOverlapping(t, chunks)
}

// assertNonOverlapping verifies the spec §4.2/§8 invariant that chunks of
// a file never share a line, ordered by source position.
func assertNonOverlapping(t *testing.T, chunks []*Chunk) {
	t.Helper()
	for i, ch := range chunks {
		require.LessOrEqual(t, ch.LineStart, ch.LineEnd)
		if i > 0 {
			require.Less(t, chunks[i-1].LineEnd, ch.LineStart, "chunks must not share a line")
		}
	}
}

func TestContentHashChangesWithContent(t *testing.T) {
	a := ContentHash([]byte("hello"))
	b := ContentHash([]byte("world"))
	require.NotEqual(t, a, b)
	require.Equal(t, a, ContentHash([]byte("hello")))
}
