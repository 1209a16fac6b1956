package classify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeInstaller struct {
	mu     sync.Mutex
	calls  []string
	stdout func(name string) string
}

func (f *fakeInstaller) Install(_ context.Context, name string) string {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.stdout == nil {
		return ""
	}
	return f.stdout(name)
}

func succeed(name string) string {
	return "Collecting " + name + "\nInstalling collected packages: " + name + "\nSuccessfully installed " + name + "-1.0.0\n"
}

type eventSink struct {
	types []string
}

func (e *eventSink) Event(eventType string, _ map[string]any) int64 {
	e.types = append(e.types, eventType)
	return int64(len(e.types))
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestClassify_Empty(t *testing.T) {
	c := New(Config{})
	out, again := c.Classify(context.Background(), "")
	assert.Equal(t, "", out)
	assert.False(t, again)
}

func TestClassify_FileNotFoundSuggestion(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "images")
	touch(t, filepath.Join(dir, "h2oGPT-light.pdf"))
	touch(t, filepath.Join(dir, "logo.svg"))

	missing := filepath.Join(dir, "h2oGPT-light.png")
	stderr := "Traceback (most recent call last):\n" +
		"  File \"x.py\", line 1, in <module>\n" +
		"FileNotFoundError: [Errno 2] No such file or directory: '" + missing + "'\n"

	out, again := New(Config{Logger: zaptest.NewLogger(t)}).Classify(context.Background(), stderr)
	assert.False(t, again)
	assert.Contains(t, out, "    Did you mean instead: '"+filepath.Join(dir, "h2oGPT-light.pdf")+"'?")

	lines := strings.Split(out, "\n")
	assert.Equal(t, "Traceback (most recent call last):", lines[0])
	assert.Equal(t, `File "x.py", line 1, in <module>`, lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "FileNotFoundError"))
	assert.True(t, strings.HasPrefix(lines[3], "    Did you mean"))
}

func TestClassify_FileNotFoundDoubleQuoted(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "report.txt"))

	stderr := `FileNotFoundError: [Errno 2] No such file or directory: "` + filepath.Join(dir, "reprot.txt") + `"`
	out, _ := New(Config{}).Classify(context.Background(), stderr)
	assert.Contains(t, out, "Did you mean instead: '"+filepath.Join(dir, "report.txt")+"'?")
}

func TestClassify_FileNotFoundMissingDirectory(t *testing.T) {
	missingDir := filepath.Join(t.TempDir(), "nowhere")
	stderr := "FileNotFoundError: [Errno 2] No such file or directory: '" + filepath.Join(missingDir, "f.txt") + "'"

	out, again := New(Config{}).Classify(context.Background(), stderr)
	assert.False(t, again)
	assert.Equal(t, stderr+"\n    Directory "+missingDir+" does not exist", out)
}

func TestClassify_FileNotFoundBareName(t *testing.T) {
	inst := &fakeInstaller{stdout: succeed}
	stderr := "FileNotFoundError: [Errno 2] No such file or directory: 'data.csv'"

	out, again := New(Config{Installer: inst, MaxInstalls: 5}).Classify(context.Background(), stderr)
	assert.Equal(t, stderr, out)
	assert.False(t, again)
	assert.Empty(t, inst.calls, "file case never installs")
}

func TestClassify_ModuleSuggestionDotted(t *testing.T) {
	root := t.TempDir()
	work := filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(work, 0o755))
	touch(t, filepath.Join(root, "python_tools", "__init__.py"))
	touch(t, filepath.Join(root, "python_tools", "get_system_info.py"))
	touch(t, filepath.Join(root, "python_tools", "notes.txt"))

	stderr := "ModuleNotFoundError: No module named '..python_tools.system_info'"
	out, again := New(Config{Dir: work}).Classify(context.Background(), stderr)
	assert.False(t, again)
	assert.Equal(t, stderr+"\n    Did you mean instead: '..python_tools.get_system_info'?", out)
}

func TestClassify_ModuleSuggestionNested(t *testing.T) {
	work := t.TempDir()
	touch(t, filepath.Join(work, "pkg", "helpers.py"))

	stderr := "ModuleNotFoundError: No module named 'pkg.helper'"
	out, _ := New(Config{Dir: work}).Classify(context.Background(), stderr)
	assert.Contains(t, out, "Did you mean instead: 'pkg.helpers'?")
}

func TestClassify_ModuleMissingDirectory(t *testing.T) {
	work := t.TempDir()
	stderr := "ModuleNotFoundError: No module named 'foo.bar'"
	out, _ := New(Config{Dir: work}).Classify(context.Background(), stderr)
	assert.Equal(t, stderr+"\n    Directory foo does not exist", out)
}

func TestClassify_InstallsTopLevelModule(t *testing.T) {
	inst := &fakeInstaller{stdout: succeed}
	sink := &eventSink{}
	c := New(Config{Installer: inst, MaxInstalls: 5, Recorder: sink, Logger: zaptest.NewLogger(t)})

	stderr := "Traceback (most recent call last):\nModuleNotFoundError: No module named 'requests'"
	out, again := c.Classify(context.Background(), stderr)
	assert.True(t, again)
	assert.Equal(t, "requests was pip installed", out)
	assert.Equal(t, []string{"requests"}, inst.calls)
	assert.Len(t, sink.types, 1)
}

func TestClassify_InstallFailurePassesThrough(t *testing.T) {
	inst := &fakeInstaller{stdout: func(string) string { return "ERROR: No matching distribution found for nosuchpkg" }}
	c := New(Config{Installer: inst, MaxInstalls: 5})

	stderr := "ModuleNotFoundError: No module named 'nosuchpkg'"
	out, again := c.Classify(context.Background(), stderr)
	assert.False(t, again)
	assert.Equal(t, stderr, out)
}

func TestClassify_SuccessMarkerMustNameModule(t *testing.T) {
	inst := &fakeInstaller{stdout: func(string) string { return "Successfully installed something-else-1.0" }}
	out, again := New(Config{Installer: inst, MaxInstalls: 5}).Classify(context.Background(), "ModuleNotFoundError: No module named 'yaml'")
	assert.False(t, again)
	assert.NotContains(t, out, "pip installed")
}

func TestClassify_InstallAttemptedOncePerName(t *testing.T) {
	inst := &fakeInstaller{stdout: func(string) string { return "" }}
	c := New(Config{Installer: inst, MaxInstalls: 5})

	stderr := "ModuleNotFoundError: No module named 'numpy'"
	for i := 0; i < 3; i++ {
		_, again := c.Classify(context.Background(), stderr)
		assert.False(t, again)
	}
	assert.Equal(t, []string{"numpy"}, inst.calls)
}

func TestClassify_InstallCap(t *testing.T) {
	inst := &fakeInstaller{stdout: succeed}
	c := New(Config{Installer: inst, MaxInstalls: 2})

	for _, name := range []string{"aaa", "bbb", "ccc"} {
		c.Classify(context.Background(), "ModuleNotFoundError: No module named '"+name+"'")
	}
	assert.Equal(t, []string{"aaa", "bbb"}, inst.calls)
}

func TestClassify_NoInstaller(t *testing.T) {
	stderr := "ModuleNotFoundError: No module named 'requests'"
	out, again := New(Config{MaxInstalls: 5}).Classify(context.Background(), stderr)
	assert.Equal(t, stderr, out)
	assert.False(t, again)
}

func TestClassify_UnmatchedLinesTrimmedInOrder(t *testing.T) {
	out, again := New(Config{}).Classify(context.Background(), "  first  \nsecond\n\tthird")
	assert.False(t, again)
	assert.Equal(t, "first\nsecond\nthird", out)
}

func TestClassify_UndecodableLiteral(t *testing.T) {
	stderr := "ModuleNotFoundError: No module named requests"
	inst := &fakeInstaller{stdout: succeed}
	out, again := New(Config{Installer: inst, MaxInstalls: 5}).Classify(context.Background(), stderr)
	assert.Equal(t, stderr, out)
	assert.False(t, again)
	assert.Empty(t, inst.calls)
}

func TestModulePathRoundTrip(t *testing.T) {
	tests := []struct {
		module string
		path   string
	}{
		{"requests", "requests.py"},
		{"pkg.mod", filepath.Join("pkg", "mod") + ".py"},
		{"..python_tools.system_info", ".." + sep + filepath.Join("python_tools", "system_info") + ".py"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.path, moduleToPath(tt.module), tt.module)
		assert.Equal(t, tt.module, pathToModule(tt.path), tt.path)
	}
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		in, dir, base string
	}{
		{"file.txt", "", "file.txt"},
		{"/abs/dir/file.txt", "/abs/dir", "file.txt"},
		{"/file.txt", "/", "file.txt"},
		{"rel/file.txt", "rel", "file.txt"},
	}
	for _, tt := range tests {
		dir, base := splitPath(tt.in)
		assert.Equal(t, tt.dir, dir, tt.in)
		assert.Equal(t, tt.base, base, tt.in)
	}
}

func TestDecodeLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`'plain'`, "plain", true},
		{` "double" `, "double", true},
		{`'it\'s'`, "it's", true},
		{`"it's"`, "it's", true},
		{`'tab\there'`, "tab\there", true},
		{`'\x41é'`, "Aé", true},
		{`'back\\slash'`, `back\slash`, true},
		{`r'raw\n'`, `raw\n`, true},
		{`'\d'`, `\d`, true},
		{`unquoted`, "", false},
		{`'unterminated`, "", false},
		{`'a' 'b'`, "", false},
		{`'\x4'`, "", false},
	}
	for _, tt := range tests {
		got, ok := decodeLiteral(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}
