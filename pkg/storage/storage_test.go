package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Person struct {
	Name string
	Age  int
}

func (p Person) Label() string { return p.Name }

type House struct {
	Persons []Person
}

type labeler interface {
	Label() string
}

func testHouse() House {
	return House{Persons: []Person{
		{Name: "Max Meier", Age: 40},
		{Name: "Tim Taler", Age: 21},
		{Name: "Anna Aiber", Age: 60},
	}}
}

// newTestStorage returns a Storage under a fresh fake home with its own registry.
func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New("objstore-"+uuid.NewString(), WithHomeDir(t.TempDir()), WithRegistry(NewRegistry()))
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	home := t.TempDir()

	tests := []struct {
		name     string
		dir      string
		wantPath string
		wantErr  error
	}{
		{name: "plain name", dir: "Test", wantPath: filepath.Join(home, "Test")},
		{name: "trimmed name", dir: "  Test \t", wantPath: filepath.Join(home, "Test")},
		{name: "dotted name", dir: ".myapp", wantPath: filepath.Join(home, ".myapp")},
		{name: "nested name", dir: "a/b", wantPath: filepath.Join(home, "a", "b")},
		{name: "empty name", dir: "", wantErr: ErrNullArgument},
		{name: "blank name", dir: "   ", wantErr: ErrInvalidArgument},
		{name: "tab and newline", dir: "\t\n", wantErr: ErrInvalidArgument},
		{name: "dot is home itself", dir: ".", wantErr: ErrInvalidArgument},
		{name: "dot dot is home's parent", dir: "..", wantErr: ErrInvalidArgument},
		{name: "slash is home itself", dir: "/", wantErr: ErrInvalidArgument},
		{name: "climbs back to home", dir: "a/..", wantErr: ErrInvalidArgument},
		{name: "escapes to sibling", dir: "../other", wantErr: ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.dir, WithHomeDir(home))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, s.Path())
		})
	}
}

func TestNew_DefaultHome(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "plan9" {
		t.Skip("home directory is not taken from $HOME on this platform")
	}
	home := t.TempDir()
	t.Setenv("HOME", home)

	s, err := New("Test")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "Test"), s.Path())
}

func TestNew_RefusesHomeDirectory(t *testing.T) {
	home := t.TempDir()
	keep := filepath.Join(home, "keep")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))

	for _, dir := range []string{".", " . ", "..", "/", "a/.."} {
		s, err := New(dir, WithHomeDir(home))
		require.ErrorIs(t, err, ErrInvalidArgument, "dir %q", dir)
		require.Nil(t, s)
	}

	assert.FileExists(t, keep)
}

func TestNew_DoesNotCreateDirectory(t *testing.T) {
	s := newTestStorage(t)

	_, err := os.Stat(s.Path())
	assert.True(t, errors.Is(err, fs.ErrNotExist), "root should not exist yet, stat err = %v", err)
}

func TestFirstStart(t *testing.T) {
	s := newTestStorage(t)

	assert.True(t, s.IsFirstStart())

	require.NoError(t, s.FirstStartFinished())
	assert.False(t, s.IsFirstStart())

	info, err := os.Stat(filepath.Join(s.Path(), MarkerFileName))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	// idempotent
	require.NoError(t, s.FirstStartFinished())
	assert.False(t, s.IsFirstStart())

	assert.True(t, s.ResetFirstStart())
	assert.True(t, s.IsFirstStart())
	assert.False(t, s.ResetFirstStart())
}

func TestFirstStartFinished_RootIsFile(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("x"), 0o644))

	err := s.FirstStartFinished()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIO)
	assert.True(t, s.IsFirstStart())
}

func TestReadWrite_House(t *testing.T) {
	s := newTestStorage(t)
	house := testHouse()

	require.NoError(t, s.Write("house", house))

	got, err := Read[House](s, "house")
	require.NoError(t, err)
	require.Len(t, got.Persons, 3)
	assert.Equal(t, Person{Name: "Max Meier", Age: 40}, got.Persons[0])
	assert.Equal(t, Person{Name: "Tim Taler", Age: 21}, got.Persons[1])
	assert.Equal(t, Person{Name: "Anna Aiber", Age: 60}, got.Persons[2])

	assert.Empty(t, s.ResetAllData())

	_, err = Read[House](s, "house")
	assert.ErrorIs(t, err, ErrNotFound)
}

type nested struct {
	Title    string
	Tags     []string
	Counts   map[string]int
	Owner    *Person
	Rooms    [][]Person
	Children map[string][]House
}

func TestReadWrite_RoundTrip(t *testing.T) {
	s := newTestStorage(t)

	t.Run("nested struct", func(t *testing.T) {
		want := nested{
			Title:  "estate",
			Tags:   []string{"a", "b"},
			Counts: map[string]int{"doors": 4, "windows": 12},
			Owner:  &Person{Name: "Max Meier", Age: 40},
			Rooms:  [][]Person{{{Name: "A", Age: 1}}, {{Name: "B", Age: 2}, {Name: "C", Age: 3}}},
			Children: map[string][]House{
				"north": {testHouse()},
			},
		}
		require.NoError(t, s.Write("nested", want))

		got, err := Read[nested](s, "nested")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("string", func(t *testing.T) {
		require.NoError(t, s.Write("greeting", "hello"))
		got, err := Read[string](s, "greeting")
		require.NoError(t, err)
		assert.Equal(t, "hello", got)
	})

	t.Run("slice", func(t *testing.T) {
		require.NoError(t, s.Write("numbers", []int{3, 1, 2}))
		got, err := Read[[]int](s, "numbers")
		require.NoError(t, err)
		assert.Equal(t, []int{3, 1, 2}, got)
	})

	t.Run("map", func(t *testing.T) {
		want := map[string][]string{"x": {"1"}, "y": {"2", "3"}}
		require.NoError(t, s.Write("index", want))
		got, err := Read[map[string][]string](s, "index")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("pointer written, value and pointer read", func(t *testing.T) {
		p := &Person{Name: "Anna Aiber", Age: 60}
		require.NoError(t, s.Write("anna", p))

		byValue, err := Read[Person](s, "anna")
		require.NoError(t, err)
		assert.Equal(t, *p, byValue)

		byPointer, err := Read[*Person](s, "anna")
		require.NoError(t, err)
		require.NotNil(t, byPointer)
		assert.Equal(t, *p, *byPointer)
	})
}

func TestReadWrite_EmptyCollectionsComeBackNil(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.Write("empty", nested{Title: "bare", Tags: []string{}, Counts: map[string]int{}}))

	got, err := Read[nested](s, "empty")
	require.NoError(t, err)
	assert.Equal(t, "bare", got.Title)
	assert.Nil(t, got.Tags)
	assert.Nil(t, got.Counts)
	assert.Empty(t, got.Tags)
}

func TestWrite_Truncates(t *testing.T) {
	s := newTestStorage(t)

	long := make([]string, 500)
	for i := range long {
		long[i] = uuid.NewString()
	}
	require.NoError(t, s.Write("value", long))
	require.NoError(t, s.Write("value", "short"))

	got, err := Read[string](s, "value")
	require.NoError(t, err)
	assert.Equal(t, "short", got)
}

func TestWrite_CreatesSubdirectories(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.Write("a/b/c", 7))

	got, err := Read[int](s, "a/b/c")
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.FileExists(t, filepath.Join(s.Path(), "a", "b", "c"))
}

func TestWrite_Errors(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Write("dir/inner", 1))

	tests := []struct {
		name    string
		file    string
		value   any
		wantErr error
	}{
		{name: "empty file name", file: "", value: 1, wantErr: ErrNullArgument},
		{name: "escapes root", file: "../outside", value: 1, wantErr: ErrInvalidArgument},
		{name: "root itself", file: ".", value: 1, wantErr: ErrInvalidArgument},
		{name: "nil value", file: "nil", value: nil, wantErr: ErrInvalidArgument},
		{name: "unencodable value", file: "chan", value: make(chan int), wantErr: ErrEncode},
		{name: "nil pointer", file: "nilptr", value: (*Person)(nil), wantErr: ErrEncode},
		{name: "target is directory", file: "dir", value: 1, wantErr: ErrIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Write(tt.file, tt.value)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWrite_EncodeFailureKeepsExistingFile(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Write("keep", "original"))

	err := s.Write("keep", func() {})
	assert.ErrorIs(t, err, ErrEncode)

	got, err := Read[string](s, "keep")
	require.NoError(t, err)
	assert.Equal(t, "original", got)
}

func TestRead_NotFound(t *testing.T) {
	s := newTestStorage(t)

	_, err := Read[House](s, "xxx")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "read", se.Op)
	assert.Equal(t, filepath.Join(s.Path(), "xxx"), se.Path)
}

func TestRead_Directory(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Write("dir/inner", 1))

	_, err := Read[int](s, "dir")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRead_EmptyFileName(t *testing.T) {
	s := newTestStorage(t)

	_, err := Read[string](s, "")
	assert.ErrorIs(t, err, ErrNullArgument)
}

func TestRead_TypeMismatch(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Write("house", testHouse()))

	_, err := Read[string](s, "house")
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Read[Person](s, "house")
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Read[[]Person](s, "house")
	assert.ErrorIs(t, err, ErrTypeMismatch)

	// the stored value is still readable with the right type
	_, err = Read[House](s, "house")
	assert.NoError(t, err)
}

func TestRead_Corrupt(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, os.MkdirAll(s.Path(), 0o755))

	valid, _, err := encode(Person{Name: "Max Meier", Age: 40})
	require.NoError(t, err)

	badVersion := append([]byte(magic), 9)
	badVersion = append(badVersion, valid[len(magic)+1:]...)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty file", data: nil},
		{name: "plain text", data: []byte("hello world")},
		{name: "unknown version", data: badVersion},
		{name: "garbage after magic", data: append([]byte(magic+"\x01"), 0xff, 0xfe, 0x00, 0x42)},
		{name: "truncated payload", data: valid[:len(valid)-3]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(filepath.Join(s.Path(), "corrupt"), tt.data, 0o644))

			_, err := Read[Person](s, "corrupt")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestRead_Interface(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Write("house", testHouse()))
	require.NoError(t, s.Write("person", Person{Name: "Tim Taler", Age: 21}))

	t.Run("any", func(t *testing.T) {
		got, err := Read[any](s, "house")
		require.NoError(t, err)
		assert.Equal(t, testHouse(), got)
	})

	t.Run("implemented interface", func(t *testing.T) {
		got, err := Read[labeler](s, "person")
		require.NoError(t, err)
		assert.Equal(t, "Tim Taler", got.Label())
	})

	t.Run("interface not implemented", func(t *testing.T) {
		_, err := Read[labeler](s, "house")
		assert.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("unresolvable type", func(t *testing.T) {
		other, err := New(filepath.Base(s.Path()), WithHomeDir(filepath.Dir(s.Path())), WithRegistry(NewRegistry()))
		require.NoError(t, err)

		_, err = Read[any](other, "house")
		assert.ErrorIs(t, err, ErrDecode)

		// concrete reads don't need the registry
		_, err = Read[House](other, "house")
		assert.NoError(t, err)
	})
}

func TestReadAs(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Write("person", Person{Name: "Max Meier", Age: 40}))

	v, err := s.ReadAs("person", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Nil(t, v)
}

func TestResetAllData(t *testing.T) {
	s := newTestStorage(t)

	// nothing to delete yet
	assert.Empty(t, s.ResetAllData())

	require.NoError(t, s.FirstStartFinished())
	require.NoError(t, s.Write("house", testHouse()))
	require.NoError(t, s.Write("deep/er/file", 1))
	require.False(t, s.IsFirstStart())

	assert.Empty(t, s.ResetAllData())

	assert.True(t, s.IsFirstStart())
	assert.NoDirExists(t, s.Path())

	_, err := Read[House](s, "house")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = Read[int](s, "deep/er/file")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResetAllData_ReportsFailures(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("directory permissions don't prevent deletion on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	s := newTestStorage(t)
	require.NoError(t, s.Write("locked/file", 1))
	require.NoError(t, s.Write("free", 2))

	locked := filepath.Join(s.Path(), "locked")
	require.NoError(t, os.Chmod(locked, 0o500))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	failed := s.ResetAllData()

	assert.Contains(t, failed, filepath.Join(locked, "file"))
	assert.Contains(t, failed, locked)
	assert.Contains(t, failed, s.Path())
	assert.NoFileExists(t, filepath.Join(s.Path(), "free"))
}

func TestList(t *testing.T) {
	s := newTestStorage(t)

	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, s.FirstStartFinished())
	require.NoError(t, s.Write("zeta", 1))
	require.NoError(t, s.Write("alpha", 2))
	require.NoError(t, s.Write("houses/north", testHouse()))

	names, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "houses/north", "zeta"}, names)
}

func TestStat(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Write("house", testHouse()))

	info, err := s.Stat("house")
	require.NoError(t, err)
	assert.Equal(t, "house", info.Name)
	assert.Equal(t, "github.com/pfrederiksen/objstore/pkg/storage.House", info.Type)
	assert.Positive(t, info.Size)
	assert.False(t, info.ModTime.IsZero())

	_, err = s.Stat("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(s.Path(), "junk"), []byte("junk"), 0o644))
	_, err = s.Stat("junk")
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDelete(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Write("house", testHouse()))
	require.NoError(t, s.Write("dir/inner", 1))

	require.NoError(t, s.Delete("house"))
	_, err := Read[House](s, "house")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete("house"), ErrNotFound)
	assert.ErrorIs(t, s.Delete("dir"), ErrInvalidArgument)
	assert.ErrorIs(t, s.Delete(""), ErrNullArgument)
	assert.ErrorIs(t, s.Delete("../x"), ErrInvalidArgument)
}

func TestError(t *testing.T) {
	cause := errors.New("boom")
	err := newError("write", "/tmp/x", ErrIO, cause)

	assert.Equal(t, "storage: i/o error: write /tmp/x: boom", err.Error())
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotFound)

	var nilErr *Error
	assert.Equal(t, "<nil>", nilErr.Error())
	assert.Nil(t, nilErr.Unwrap())
}
