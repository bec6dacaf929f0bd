package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	cfgpkg "github.com/gianlucaricaldone/lirya-script/internal/config"
	"github.com/gianlucaricaldone/lirya-script/internal/diag"
	"github.com/gianlucaricaldone/lirya-script/internal/pipeline"
	"github.com/gianlucaricaldone/lirya-script/pkg/contract"
)

func TestMain(m *testing.M) {
	newLogger = func(string, string) *diag.Logger { return diag.NewNop() }
	goleak.VerifyTestMain(m)
}

// chdir 切换到独立工作目录，避免读取仓库中的 .env 或默认配置。
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func stubRun(t *testing.T, fn func(context.Context, pipeline.Components, pipeline.Settings, *diag.Logger) (pipeline.Report, error)) {
	t.Helper()
	old := pipelineRun
	pipelineRun = fn
	t.Cleanup(func() { pipelineRun = old })
}

func exec(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	in := filepath.Join(dir, "cards.json")
	require.NoError(t, os.WriteFile(in, []byte(`{"common_cards":[{"id":3,"img":"3_a.png"},{"id":1,"img":"1_b.png"}]}`), 0o644))
	out := filepath.Join(dir, "out")

	code, stdout, stderr := exec(t, "--out-dir", out, "--start", "10", "--status=false", in)
	require.Equal(t, 0, code, stderr)

	got, err := os.ReadFile(filepath.Join(out, "updated_cards.json"))
	require.NoError(t, err)
	want := `{
  "common_cards": [
    {
      "id": 10,
      "img": "10_a.png"
    },
    {
      "id": 11,
      "img": "11_b.png"
    }
  ]
}`
	assert.Equal(t, want, string(got))
	assert.Contains(t, stdout, "[ok] 全部完成 | 文件 1 | 记录 2 | ID 10..11 | 下一个 ID 12")
	assert.Contains(t, stdout, "  3 -> 10\n")
	assert.NotContains(t, stdout, "[run]")
}

func TestRunSubcommandEqualsRoot(t *testing.T) {
	chdir(t, t.TempDir())
	var got pipeline.Settings
	stubRun(t, func(_ context.Context, _ pipeline.Components, set pipeline.Settings, _ *diag.Logger) (pipeline.Report, error) {
		got = set
		return pipeline.Report{Start: set.Start, Next: set.Start}, nil
	})
	code, _, stderr := exec(t, "run", "--start", "0", "a.json")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, []string{"a.json"}, got.Inputs)
	assert.Equal(t, int64(0), got.Start)
}

// 优先级：CLI > ENV > 配置文件 > 默认值
func TestConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile("cardrenum.yaml", []byte("start_id: 7\npreview: 2\nwrap_keys: [file_key]\nseparator: \"-\"\n"), 0o644))
	t.Setenv("CARDRENUM_START_ID", "8")
	t.Setenv("CARDRENUM_WRAP_KEYS", "env_key")

	var got pipeline.Settings
	var comp pipeline.Components
	stubRun(t, func(_ context.Context, c pipeline.Components, set pipeline.Settings, _ *diag.Logger) (pipeline.Report, error) {
		comp, got = c, set
		return pipeline.Report{Start: set.Start, Next: set.Start}, nil
	})
	code, _, stderr := exec(t, "--start", "9", "--prefix", "", "--codec", "json", "x.json")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, int64(9), got.Start)
	assert.Equal(t, 2, got.Preview)
	assert.Equal(t, []string{"env_key"}, got.WrapKeys)
	assert.Equal(t, byte('-'), got.Renumber.Separator)
	assert.Equal(t, []string{"x.json"}, got.Inputs)
	require.Len(t, comp.Codecs, 1)
	assert.Equal(t, "json", comp.Codecs[0].Name())

	target, err := comp.Writer.Target(contract.ArtifactID("in/x.json"))
	require.NoError(t, err)
	assert.Equal(t, "x.json", filepath.Base(target))
}

func TestConfigFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	cfgPath := filepath.Join(dir, "custom.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"inputs":["from_file.json"],"start_id":100}`), 0o644))
	t.Setenv("CARDRENUM_CONFIG_FILE", cfgPath)

	var got pipeline.Settings
	stubRun(t, func(_ context.Context, _ pipeline.Components, set pipeline.Settings, _ *diag.Logger) (pipeline.Report, error) {
		got = set
		return pipeline.Report{Start: set.Start, Next: set.Start}, nil
	})
	code, _, stderr := exec(t)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, []string{"from_file.json"}, got.Inputs)
	assert.Equal(t, int64(100), got.Start)
}

func TestDotEnvLoaded(t *testing.T) {
	chdir(t, t.TempDir())
	require.NoError(t, os.WriteFile(".env", []byte("CARDRENUM_PREVIEW=4\n"), 0o644))
	require.NoError(t, os.Unsetenv("CARDRENUM_PREVIEW"))
	t.Cleanup(func() { _ = os.Unsetenv("CARDRENUM_PREVIEW") })

	var got pipeline.Settings
	stubRun(t, func(_ context.Context, _ pipeline.Components, set pipeline.Settings, _ *diag.Logger) (pipeline.Report, error) {
		got = set
		return pipeline.Report{Start: set.Start, Next: set.Start}, nil
	})
	code, _, stderr := exec(t, "a.json")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, 4, got.Preview)
}

func TestRunFailureExitCode(t *testing.T) {
	chdir(t, t.TempDir())
	stubRun(t, func(_ context.Context, _ pipeline.Components, set pipeline.Settings, _ *diag.Logger) (pipeline.Report, error) {
		return pipeline.Report{Start: set.Start, Next: set.Start + 3}, errors.New("boom")
	})
	code, stdout, stderr := exec(t, "a.json")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "运行失败: boom")
	assert.Contains(t, stdout, "[fail] 已中止 | 完成文件 0 | 已处理记录 3")
}

func TestRunCanceledIsQuiet(t *testing.T) {
	chdir(t, t.TempDir())
	stubRun(t, func(_ context.Context, _ pipeline.Components, set pipeline.Settings, _ *diag.Logger) (pipeline.Report, error) {
		return pipeline.Report{Start: set.Start, Next: set.Start}, context.Canceled
	})
	code, _, stderr := exec(t, "a.json")
	assert.Equal(t, 1, code)
	assert.NotContains(t, stderr, "运行失败")
}

func TestConfigErrors(t *testing.T) {
	chdir(t, t.TempDir())
	stubRun(t, func(context.Context, pipeline.Components, pipeline.Settings, *diag.Logger) (pipeline.Report, error) {
		t.Fatal("pipeline must not run")
		return pipeline.Report{}, nil
	})
	require.NoError(t, os.WriteFile("not_a_dir", []byte("x"), 0o644))
	require.NoError(t, os.WriteFile("bad.json", []byte(`{"bogus":1}`), 0o644))

	cases := map[string]struct {
		args []string
		msg  string
	}{
		"分隔符非法":  {[]string{"--separator", "12", "a.json"}, "配置校验失败"},
		"负起始":    {[]string{"--start=-1", "a.json"}, "配置校验失败"},
		"stdin":  {[]string{"-"}, "配置校验失败"},
		"未知编解码器": {[]string{"--codec", "toml", "a.json"}, "配置校验失败"},
		"未知旗标":   {[]string{"--nope"}, "参数错误"},
		"配置文件错误": {[]string{"--config", "bad.json", "a.json"}, "配置解析失败"},
		"配置文件缺失": {[]string{"--config", "missing.yaml", "a.json"}, "配置解析失败"},
		"输出目录是文件": {[]string{"--out-dir", "not_a_dir", "a.json"}, "输出目录不可写"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			code, _, stderr := exec(t, tc.args...)
			assert.Equal(t, 3, code)
			assert.Contains(t, stderr, tc.msg)
		})
	}
}

func TestEnvOverlayError(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CARDRENUM_START_ID", "abc")
	code, _, stderr := exec(t, "a.json")
	assert.Equal(t, 3, code)
	assert.Contains(t, stderr, "环境变量解析失败")
}

func TestInitConfig(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	out := filepath.Join(dir, "conf")

	code, stdout, stderr := exec(t, "init-config", out)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "cardrenum.yaml")

	raw, err := os.ReadFile(filepath.Join(out, "cardrenum.yaml"))
	require.NoError(t, err)
	cfg, err := cfgpkg.LoadYAML(raw)
	require.NoError(t, err)
	require.NoError(t, cfgpkg.Validate(cfg))

	env, err := os.ReadFile(filepath.Join(out, ".env"))
	require.NoError(t, err)
	assert.Contains(t, string(env), "CARDRENUM_START_ID=\n")

	// 不覆盖已存在文件
	code, _, stderr = exec(t, "init-config", out)
	assert.Equal(t, 3, code)
	assert.Contains(t, stderr, "生成默认配置失败")

	code, _, stderr = exec(t, "init-config", "--format", "json", out)
	require.Equal(t, 0, code, stderr)
	raw, err = os.ReadFile(filepath.Join(out, "cardrenum.json"))
	require.NoError(t, err)
	_, err = cfgpkg.LoadJSON(raw)
	require.NoError(t, err)

	code, _, _ = exec(t, "init-config", "--format", "toml", out)
	assert.Equal(t, 3, code)
}

func TestVersion(t *testing.T) {
	chdir(t, t.TempDir())
	code, stdout, _ := exec(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "cardrenum dev\n", stdout)
}

func TestPreflightCreatesNothing(t *testing.T) {
	dir := t.TempDir()
	cfg := cfgpkg.Defaults()
	cfg.OutputDir = filepath.Join(dir, "new")
	require.NoError(t, preflightCheckOutputDir(cfg))
	_, err := os.Stat(cfg.OutputDir)
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	cfg.OutputDir = filepath.Join(dir, "a", "b")
	assert.Error(t, preflightCheckOutputDir(cfg))
}
