package main

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jwhite-codeweavers/x11spice-go/internal/audit"
	"github.com/jwhite-codeweavers/x11spice-go/internal/bridge"
	"github.com/jwhite-codeweavers/x11spice-go/internal/config"
	"github.com/jwhite-codeweavers/x11spice-go/internal/logging"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	cfgFile string

	flagAllowControl     bool
	flagNoAllowControl   bool
	flagTimeout          int
	flagDisplay          string
	flagPassword         string
	flagPasswordFile     string
	flagSSL              string
	flagSSLSet           bool
	flagGeneratePassword int
	flagGenPasswordSet   bool
	flagHide             bool
	flagMinimize         bool
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "x11spice [listen-spec]",
	Short: "Capture an X11 display and forward it to a Spice-compatible client",
	Long: `x11spice captures an X11 display via XDAMAGE/XSHM and forwards the
resulting frames, cursor updates, and input to a Spice-compatible remote
protocol library over the given listen spec (default 5900).`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		listenSpec := ""
		if len(args) == 1 {
			listenSpec = args[0]
		}
		run(listenSpec)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("x11spice v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: system then user x11spice.conf)")
	rootCmd.Flags().BoolVar(&flagAllowControl, "allow-control", false, "allow the remote client to send input")
	rootCmd.Flags().BoolVar(&flagNoAllowControl, "no-allow-control", false, "view-only; ignore input from the remote client")
	rootCmd.Flags().IntVar(&flagTimeout, "timeout", 0, "exit if no client connects within N seconds (0 = no timeout)")
	rootCmd.Flags().StringVar(&flagDisplay, "display", "", "X11 display to capture (default: $DISPLAY)")
	rootCmd.Flags().StringVar(&flagPassword, "password", "", "ticket password for the Spice session")
	rootCmd.Flags().StringVar(&flagPasswordFile, "password-file", "", "file containing the ticket password, or \"-\" for stdin")
	rootCmd.Flags().BoolVar(&flagHide, "hide", false, "suppress the startup banner")
	rootCmd.Flags().BoolVar(&flagMinimize, "minimize", false, "run without an on-screen presence")

	sslFlag := rootCmd.Flags().VarPF(newSSLValue(), "ssl", "", "enable SSL: ca,cert,key,keypw,dh,cipher")
	sslFlag.NoOptDefVal = " "

	genFlag := rootCmd.Flags().VarPF(newGeneratePasswordValue(), "generate-password", "", "generate a random ticket password of the given length (default 8)")
	genFlag.NoOptDefVal = "8"

	rootCmd.AddCommand(versionCmd)
}

// sslValue and generatePasswordValue implement pflag.Value so "--ssl" and
// "--generate-password" can be passed bare (NoOptDefVal) or with an
// argument, matching the original program's optional-argument flags.
type sslValue struct{}

func newSSLValue() *sslValue { return &sslValue{} }
func (v *sslValue) String() string {
	if flagSSLSet {
		return flagSSL
	}
	return ""
}
func (v *sslValue) Set(s string) error {
	flagSSL = s
	flagSSLSet = true
	return nil
}
func (v *sslValue) Type() string { return "string" }

type generatePasswordValue struct{}

func newGeneratePasswordValue() *generatePasswordValue { return &generatePasswordValue{} }
func (v *generatePasswordValue) String() string {
	if flagGenPasswordSet {
		return fmt.Sprintf("%d", flagGeneratePassword)
	}
	return ""
}
func (v *generatePasswordValue) Set(s string) error {
	n := 8
	if s != "" {
		if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
			return fmt.Errorf("invalid --generate-password length %q: %w", s, err)
		}
	}
	flagGeneratePassword = n
	flagGenPasswordSet = true
	return nil
}
func (v *generatePasswordValue) Type() string { return "int" }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging from config. Call after config.Load().
func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	logFileFallback := false

	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
			logFileFallback = true
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")

	if logFileFallback {
		log.Warn("log file fallback active, logging to stdout only", "requestedFile", cfg.LogFile)
	}
}

// applyFlags overrides config values with flags the user actually set on
// the command line, so CLI takes precedence over both config files (spec §6/§A.3).
func applyFlags(cfg *config.Config, cmd *cobra.Command, listenSpec string) {
	if listenSpec != "" {
		cfg.Spice.Listen = listenSpec
	}
	if cmd.Flags().Changed("allow-control") {
		cfg.Spice.AllowControl = flagAllowControl
	}
	if cmd.Flags().Changed("no-allow-control") {
		cfg.Spice.AllowControl = !flagNoAllowControl
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Spice.Timeout = flagTimeout
	}
	if cmd.Flags().Changed("display") {
		cfg.Spice.Display = flagDisplay
	}
	if cmd.Flags().Changed("password") {
		cfg.Spice.Password = flagPassword
	}
	if cmd.Flags().Changed("password-file") {
		cfg.Spice.PasswordFile = flagPasswordFile
	}
	if cmd.Flags().Changed("hide") {
		cfg.Spice.Hide = flagHide
	}
	if cmd.Flags().Changed("minimize") {
		cfg.Spice.Minimize = flagMinimize
	}
	if flagSSLSet {
		cfg.SSL.Enabled = true
		applySSLShorthand(cfg, flagSSL)
	}
	if flagGenPasswordSet {
		cfg.Spice.GeneratePassword = flagGeneratePassword
	}
}

// applySSLShorthand parses "--ssl=ca,cert,key,keypw,dh,cipher" into the
// [ssl] config fields, leaving any omitted trailing field untouched.
func applySSLShorthand(cfg *config.Config, arg string) {
	if arg == "" || arg == " " {
		return
	}
	fields := []*string{
		&cfg.SSL.CACertFile,
		&cfg.SSL.CertsFile,
		&cfg.SSL.PrivateKeyFile,
		&cfg.SSL.KeyPasswordFile,
		&cfg.SSL.DHKeyFile,
		&cfg.SSL.Ciphersuite,
	}
	parts := splitCSV(arg)
	for i, p := range parts {
		if i >= len(fields) {
			break
		}
		if p != "" {
			*fields[i] = p
		}
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// fatal reports a startup error the way the GUI-less fallback in §C.5
// specifies: stderr, plus a banner line when not hidden/minimized.
func fatal(cfg *config.Config, code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, "x11spice: "+msg)
	if cfg != nil && !cfg.Spice.Hide && !cfg.Spice.Minimize {
		fmt.Fprintln(os.Stderr, "*** "+msg+" ***")
	}
	os.Exit(code)
}

// resolvePassword materializes the effective ticket password: an explicit
// --generate-password takes priority, then --password-file, then
// --password verbatim. Mutual exclusion was already enforced by
// config.ValidateTiered before this runs.
func resolvePassword(cfg *config.Config) (string, error) {
	if cfg.Spice.GeneratePassword > 0 {
		pw, err := generatePassword(cfg.Spice.GeneratePassword)
		if err != nil {
			return "", err
		}
		fmt.Printf("Generated password: %s\n", pw)
		return pw, nil
	}
	if cfg.Spice.PasswordFile != "" {
		if cfg.Spice.PasswordFile == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return "", fmt.Errorf("reading password from stdin: %w", err)
			}
			return trimNewline(string(data)), nil
		}
		data, err := os.ReadFile(cfg.Spice.PasswordFile)
		if err != nil {
			return "", fmt.Errorf("reading password file: %w", err)
		}
		return trimNewline(string(data)), nil
	}
	return cfg.Spice.Password, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// passwordAlphabet mirrors the original's printable-subset password
// generator: unambiguous letters and digits, no quoting-hostile characters.
const passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

func generatePassword(length int) (string, error) {
	if length <= 0 {
		length = 8
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = passwordAlphabet[int(b)%len(passwordAlphabet)]
	}
	return string(out), nil
}

// auditDataDir returns the directory the audit trail is written under when
// config.Spice.Audit is set. There is no dedicated config key for it (spec
// §6 only carries the message-type and the enable flag), so it sits next
// to the user config directory.
func auditDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "x11spice", "audit")
	}
	return filepath.Join(os.TempDir(), "x11spice-audit")
}

// run implements the startup orchestration (spec §C.1): parse options,
// create the session, open the display, check the impossible-config rule,
// start the forwarder, start the session, install signal handling, block,
// tear down in reverse order.
func run(listenSpec string) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "x11spice: failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, rootCmd, listenSpec)

	result := cfg.ValidateTiered()
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "x11spice: warning: %v\n", w)
	}
	if result.HasFatals() {
		for _, e := range result.Fatals {
			fmt.Fprintf(os.Stderr, "x11spice: %v\n", e)
		}
		os.Exit(1)
	}

	initLogging(cfg)

	if err := config.ValidateTicketing(cfg); err != nil {
		fatal(cfg, 2, "%v", err)
	}

	password, err := resolvePassword(cfg)
	if err != nil {
		fatal(cfg, 2, "%v", err)
	}
	_ = password // carried to the external remote protocol library's server-start call (spec §C.4)

	var auditLogger *audit.Logger
	if cfg.Spice.Audit {
		auditLogger, err = audit.NewLogger(auditDataDir(), cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.Spice.AuditMessageType)
		if err != nil {
			fatal(cfg, 3, "audit requested but unavailable: %v", err)
		}
		defer auditLogger.Close()
	}

	if !cfg.Spice.Hide {
		fmt.Printf("x11spice %s listening on %s\n", version, cfg.Spice.Listen)
	}

	adapter := bridge.NewAdapter(logging.L("display"))
	pool := bridge.NewPool(adapter.(bridge.Attacher), logging.L("shmpool"))

	sessOpts := bridge.Options{
		Display:      cfg.Spice.Display,
		Trust:        bridge.ParseDamageTrust(cfg.Spice.AlwaysTrustDamage),
		OnConnect:    cfg.Spice.OnConnect,
		OnDisconnect: cfg.Spice.OnDisconnect,
		AllowControl: cfg.Spice.AllowControl,
	}
	if auditLogger != nil {
		sessOpts.Audit = auditLogger
	}

	session := bridge.NewSession(adapter, pool, sessOpts, logging.WithSession(logging.L("session"), ""))

	if err := session.Start(); err != nil {
		fatal(cfg, 4, "failed to start capture session: %v", err)
	}

	forwarder := bridge.NewForwarder(session, logging.L("forwarder"))
	_ = forwarder // attached to the external remote protocol library via AttachWorker (spec §4.4, §9)

	log.Info("x11spice running", "version", version, "listen", cfg.Spice.Listen, "display", cfg.Spice.Display)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	session.End()
	session.Destroy()
	log.Info("x11spice stopped")
}
