package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	cfgpkg "github.com/gianlucaricaldone/lirya-script/internal/config"
	"github.com/gianlucaricaldone/lirya-script/internal/diag"
	"github.com/gianlucaricaldone/lirya-script/internal/pipeline"
)

var (
	pipelineRun = pipeline.Run
	newLogger   = diag.NewLogger
	version     = "dev"
)

// 未指定 --config 与 CARDRENUM_CONFIG_FILE 时，依次查找工作目录下的这些文件。
var defaultConfigFiles = []string{"cardrenum.yaml", "cardrenum.yml", "cardrenum.json"}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// 退出码：0 成功；1 运行期失败；3 配置/参数错误。
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	// 在任何 ENV 读取前加载 .env（不覆盖已有 ENV）
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(stderr, "提示：.env 读取失败（已跳过）：%v\n", err)
	}
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "参数错误: %v\n", err)
		return 3
	}
	return a.code
}

type app struct {
	stdout, stderr io.Writer
	code           int

	configPath string
	start      int64
	prefix     string
	outDir     string
	wrapKeys   []string
	idField    string
	refField   string
	separator  string
	preview    int
	logLevel   string
	codec      string
	status     bool

	initFormat string
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cardrenum [inputs...]",
		Short: "按顺序为卡牌集合重新分配连续 ID，并同步图片引用",
		Long: "依次读取卡牌文件（JSON/YAML，或目录下的此类文件），从起始 ID 起连续重编号，\n" +
			"同步更新引用字段中的数字前缀，结果写入带前缀的新文件。",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.code = a.run(cmd, args)
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "配置文件路径（.json/.yaml/.yml）；缺省读取 CARDRENUM_CONFIG_FILE 或工作目录下的 cardrenum.yaml")
	pf.Int64Var(&a.start, "start", 5, "首个分配的 ID（覆盖配置）")
	pf.StringVar(&a.prefix, "prefix", "updated_", "输出文件名前缀（覆盖配置；可为空）")
	pf.StringVar(&a.outDir, "out-dir", ".", "输出目录（覆盖配置）")
	pf.StringArrayVar(&a.wrapKeys, "wrap-key", nil, "包裹键（可重复；覆盖配置）")
	pf.StringVar(&a.idField, "id-field", "id", "标识字段名（覆盖配置）")
	pf.StringVar(&a.refField, "ref-field", "img", "引用字段名（覆盖配置）")
	pf.StringVar(&a.separator, "separator", "_", "引用中数字前缀后的分隔符（覆盖配置）")
	pf.IntVar(&a.preview, "preview", 10, "结束总览中展示的映射条数（覆盖配置）")
	pf.StringVar(&a.logLevel, "log-level", "info", "日志级别 debug|info|warn|error（覆盖配置）")
	pf.StringVar(&a.codec, "codec", cfgpkg.CodecAuto, "编解码器：auto 按扩展名选择，或强制 json|yaml（覆盖配置）")
	pf.BoolVar(&a.status, "status", true, "终端进度提示。TTY 单行刷新；非 TTY 逐行输出")

	runCmd := &cobra.Command{
		Use:   "run [inputs...]",
		Short: "执行重编号（默认子命令）",
		Args:  cobra.ArbitraryArgs,
		RunE:  root.RunE,
	}
	initCmd := &cobra.Command{
		Use:   "init-config [dir]",
		Short: "在指定目录生成默认配置与 .env 模板（已存在则不覆盖）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			a.code = a.initConfig(dir)
			return nil
		},
	}
	initCmd.Flags().StringVar(&a.initFormat, "format", "yaml", "配置文件格式 yaml|json")
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "打印版本号",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "cardrenum %s\n", version)
		},
	}
	root.AddCommand(runCmd, initCmd, versionCmd)
	return root
}

func (a *app) run(cmd *cobra.Command, args []string) int {
	start := time.Now()
	corrID := uuid.NewString()
	// 先以默认级别占位，合并配置后按最终 level 重建
	logger := newLogger(corrID, "info")
	defer func() { _ = logger.Sync() }()

	fail := func(msg string, err error) int {
		fmt.Fprintf(a.stderr, "%s: %v\n", msg, err)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	cfg := cfgpkg.Defaults()
	path := a.configPath
	if path == "" {
		path = strings.TrimSpace(os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE"))
	}
	if path == "" {
		path = findDefaultConfig()
	}
	if path != "" {
		base, err := cfgpkg.Load(path)
		if err != nil {
			return fail("配置解析失败", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	} else if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); strings.TrimSpace(s) != "" {
		base, err := cfgpkg.LoadJSON([]byte(s))
		if err != nil {
			return fail("配置解析失败", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return fail("环境变量解析失败", err)
	}
	cfg = cfgpkg.Merge(cfg, overEnv)
	cfg = cfgpkg.Merge(cfg, a.cliOverlay(cmd, args))

	if err := cfgpkg.Validate(cfg); err != nil {
		fmt.Fprintf(a.stderr, "配置校验失败: %v\n", err)
		dumpConfig(a.stderr, cfg)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" {
		_ = logger.Sync()
		logger = newLogger(corrID, lv)
	}

	if err := preflightCheckOutputDir(cfg); err != nil {
		return fail("输出目录不可写或无法创建", err)
	}

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return fail("装配失败", err)
	}

	term := diag.NewTerminal(a.stdout, a.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(len(set.Inputs), set.Start)

	logger.DebugStart("config", "effective", "", map[string]string{
		"inputs_count": fmt.Sprintf("%d", len(cfg.Inputs)),
		"start_id":     fmt.Sprintf("%d", set.Start),
		"wrap_keys":    strings.Join(set.WrapKeys, ","),
		"id_field":     set.Renumber.IDField,
		"ref_field":    set.Renumber.RefField,
		"separator":    string(set.Renumber.Separator),
		"output_dir":   cfg.OutputDir,
		"prefix":       derefString(cfg.Prefix),
		"reader":       cfg.Components.Reader,
		"codec":        cfg.Components.Codec,
		"writer":       cfg.Components.Writer,
	})

	t := logger.Start("pipeline", "run")
	rep, err := pipelineRun(cmd.Context(), comp, set, logger)
	if err != nil {
		code := string(diag.Classify(err))
		logger.Error("pipeline", code, "first error", &start)
		diag.IncOp("pipeline", "finish", "error")
		if code != string(diag.CodeUnknown) {
			diag.IncError("pipeline", code)
		}
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(a.stderr, "运行失败: %v\n", err)
		}
		term.RunFinish(false, rep.Summary(set.Preview), time.Since(start))
		diag.LogMetrics(logger)
		return 1
	}
	t.Finish("run", rep.Processed())
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	term.RunFinish(true, rep.Summary(set.Preview), time.Since(start))
	diag.LogMetrics(logger)
	return 0
}

// cliOverlay 仅收集显式给出的旗标；位置参数作为输入列表。
func (a *app) cliOverlay(cmd *cobra.Command, args []string) cfgpkg.Config {
	var over cfgpkg.Config
	fs := cmd.Flags()
	if len(args) > 0 {
		over.Inputs = args
	}
	if fs.Changed("start") {
		v := a.start
		over.StartID = &v
	}
	if fs.Changed("prefix") {
		v := a.prefix
		over.Prefix = &v
	}
	if fs.Changed("out-dir") {
		over.OutputDir = a.outDir
	}
	if fs.Changed("wrap-key") {
		over.WrapKeys = a.wrapKeys
	}
	if fs.Changed("id-field") {
		over.IDField = a.idField
	}
	if fs.Changed("ref-field") {
		over.RefField = a.refField
	}
	if fs.Changed("separator") {
		over.Separator = a.separator
	}
	if fs.Changed("preview") {
		v := a.preview
		over.Preview = &v
	}
	if fs.Changed("log-level") {
		over.Logging.Level = a.logLevel
	}
	if fs.Changed("codec") {
		over.Components.Codec = a.codec
	}
	return over
}

func (a *app) initConfig(dir string) int {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(a.stderr, "生成默认配置失败: %v\n", err)
		return 3
	}
	var (
		name string
		b    []byte
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(a.initFormat)) {
	case "yaml", "yml", "":
		name = "cardrenum.yaml"
		b, err = cfgpkg.MarshalYAML(cfgpkg.DefaultTemplateConfig())
	case "json":
		name = "cardrenum.json"
		b, err = cfgpkg.MarshalJSON(cfgpkg.DefaultTemplateConfig())
	default:
		err = fmt.Errorf("unknown format %q", a.initFormat)
	}
	if err == nil {
		err = writeNew(filepath.Join(dir, name), b)
	}
	if err != nil {
		fmt.Fprintf(a.stderr, "生成默认配置失败: %v\n", err)
		return 3
	}
	if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
		fmt.Fprintf(a.stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	fmt.Fprintf(a.stdout, "已生成 %s\n", filepath.Join(dir, name))
	return 0
}

func findDefaultConfig() string {
	for _, p := range defaultConfigFiles {
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// loadDotEnv: 文件不存在时忽略；godotenv 不覆盖已存在的环境变量。
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

func dumpConfig(w io.Writer, c cfgpkg.Config) {
	b, err := cfgpkg.MarshalJSON(c)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "有效配置:\n%s", b)
}

// writeNew 仅创建新文件，已存在时返回错误。
func writeNew(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// writeDotEnv 生成 .env 模板（已存在则跳过）。
func writeDotEnv(path string) error {
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		return nil
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}
	p := cfgpkg.EnvPrefix
	var b strings.Builder
	b.WriteString("# cardrenum .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件 > 默认值\n")
	b.WriteString("# 空值表示未设置（PREFIX 除外：取消注释并留空表示不加前缀）。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	b.WriteString(p + "CONFIG_FILE=\n")
	b.WriteString(p + "CONFIG_JSON=\n\n")

	b.WriteString("# 运行参数覆盖\n")
	for _, k := range []string{"INPUTS", "START_ID", "WRAP_KEYS", "ID_FIELD", "REF_FIELD", "SEPARATOR", "PREVIEW", "OUTPUT_DIR", "LOG_LEVEL"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("# " + p + "PREFIX=\n\n")

	b.WriteString("# 组件选择\n")
	for _, k := range []string{"COMPONENTS_READER", "COMPONENTS_CODEC", "COMPONENTS_WRITER"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 组件选项（原样 JSON）\n")
	b.WriteString(p + "OPTIONS_READER_JSON=\n")
	b.WriteString(p + "OPTIONS_WRITER_JSON=\n")
	b.WriteString(p + "OPTIONS_CODEC__JSON_JSON=\n")
	b.WriteString(p + "OPTIONS_CODEC__YAML_JSON=\n")

	err := writeNew(path, []byte(b.String()))
	if os.IsExist(err) {
		return nil
	}
	return err
}

// preflightCheckOutputDir: 使用 fs writer 时，启动前检查输出目录可写性。
// 目录存在：尝试创建并删除临时文件；不存在：检查父目录可写。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	writer := strings.TrimSpace(cfg.Components.Writer)
	if writer == "" {
		writer = cfgpkg.Defaults().Components.Writer
	}
	if writer != "fs" {
		return nil
	}
	dir := strings.TrimSpace(cfg.OutputDir)
	if dir == "" {
		dir = "."
	}
	st, err := os.Stat(dir)
	switch {
	case err == nil && st.IsDir():
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(name)
	case err == nil:
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	case !os.IsNotExist(err):
		return err
	}
	parent := filepath.Dir(filepath.Clean(dir))
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("父路径不是目录: %s", parent)
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	return os.RemoveAll(tmpd)
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
