// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// console.go - Command dispatch for the vaultsec console.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Developer-Keyithan/the-vault/internal/config"
	"github.com/Developer-Keyithan/the-vault/internal/security"
	"github.com/Developer-Keyithan/the-vault/internal/storage"
	"github.com/Developer-Keyithan/the-vault/internal/util"
	"github.com/Developer-Keyithan/the-vault/internal/vault"
)

// DefaultEventsShown is how many events "events" prints without an argument.
const DefaultEventsShown = 20

// Errors returned by Execute.
var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
	ErrNoJournal      = errors.New("journal is disabled")
	ErrNoConfig       = errors.New("no configuration attached")
)

// =============================================================================
// CONSOLE
// =============================================================================

// Console executes console commands against one coordinator and vault
// session.
type Console struct {
	coord   *security.Coordinator
	session *vault.Session
	journal *storage.Journal
	cfg     *config.Config
	cfgPath string
	out     io.Writer
	styled  bool
	width   int

	commands map[string]*command
}

type command struct {
	name     string
	aliases  []string
	usage    string
	help     string
	// activity marks commands that count as user interaction.
	activity bool
	run      func(ctx context.Context, args []string) error
}

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithJournal enables the "journal" command.
func WithJournal(j *storage.Journal) ConsoleOption {
	return func(c *Console) {
		c.journal = j
	}
}

// WithConfig enables "config". When path is non-empty, successful
// "config set" commands are saved there.
func WithConfig(cfg *config.Config, path string) ConsoleOption {
	return func(c *Console) {
		c.cfg = cfg
		c.cfgPath = path
	}
}

// WithOutput sets the writer commands print to.
func WithOutput(w io.Writer) ConsoleOption {
	return func(c *Console) {
		c.out = w
	}
}

// WithStyles enables or disables lipgloss styling.
func WithStyles(enabled bool) ConsoleOption {
	return func(c *Console) {
		c.styled = enabled
	}
}

// WithWidth sets the width long lines are truncated to.
func WithWidth(width int) ConsoleOption {
	return func(c *Console) {
		if width > 0 {
			c.width = width
		}
	}
}

// NewConsole creates a console. Output defaults to stdout, styled when
// colors are enabled.
func NewConsole(coord *security.Coordinator, session *vault.Session, opts ...ConsoleOption) *Console {
	c := &Console{
		coord:   coord,
		session: session,
		out:     os.Stdout,
		styled:  ColorsEnabled(),
		width:   GetTerminalWidth(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.register()
	return c
}

func (c *Console) register() {
	cmds := []*command{
		{name: "fg", aliases: []string{"foreground"}, help: "report the app returning to foreground", run: c.cmdForeground},
		{name: "bg", aliases: []string{"background"}, help: "report the app moving to background", run: c.cmdBackground},
		{name: "copy", usage: "copy <text> [--no-clear]", help: "copy text with auto-clear", activity: true, run: c.cmdCopy},
		{name: "clear", help: "clear the clipboard", activity: true, run: c.cmdClear},
		{name: "inspect", help: "clear the clipboard if it holds a large payload", activity: true, run: c.cmdInspect},
		{name: "ack", aliases: []string{"acknowledge"}, help: "dismiss the breach warning", activity: true, run: c.cmdAck},
		{name: "lock", help: "lock the vault now", run: c.cmdLock},
		{name: "unlock", usage: "unlock <pin> [totp-code]", help: "unlock the vault", run: c.cmdUnlock},
		{name: "status", help: "show vault and security state", activity: true, run: c.cmdStatus},
		{name: "events", aliases: []string{"logs"}, usage: "events [n]", help: "show recent security events", activity: true, run: c.cmdEvents},
		{name: "clearlog", help: "empty the in-memory event log", activity: true, run: c.cmdClearLog},
		{name: "journal", usage: "journal [kind] [limit]", help: "query the durable event journal", activity: true, run: c.cmdJournal},
		{name: "autolock", usage: "autolock <minutes>", help: "set the inactivity threshold (0 locks on background)", activity: true, run: c.cmdAutoLock},
		{name: "check", help: "run a compliance check", activity: true, run: c.cmdCheck},
		{name: "sweep", help: "run the periodic checks now", activity: true, run: c.cmdSweep},
		{name: "config", usage: "config get <key> | set <key> <value> | keys", help: "read or change settings", activity: true, run: c.cmdConfig},
		{name: "help", aliases: []string{"?"}, help: "list commands", run: c.cmdHelp},
	}
	c.commands = make(map[string]*command, len(cmds)*2)
	for _, cmd := range cmds {
		if cmd.usage == "" {
			cmd.usage = cmd.name
		}
		c.commands[cmd.name] = cmd
		for _, alias := range cmd.aliases {
			c.commands[alias] = cmd
		}
	}
}

// Execute runs one command line. quit is true for "quit" and "exit".
func (c *Console) Execute(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	name := strings.ToLower(fields[0])
	if name == "quit" || name == "exit" {
		return true, nil
	}

	cmd, ok := c.commands[name]
	if !ok {
		return false, fmt.Errorf("%w: %s (try \"help\")", ErrUnknownCommand, fields[0])
	}
	if cmd.activity {
		c.coord.RecordActivity()
	}
	return false, cmd.run(ctx, fields[1:])
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func (c *Console) paint(style lipgloss.Style, text string) string {
	if !c.styled {
		return text
	}
	return style.Render(text)
}

func (c *Console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) field(label string, value interface{}) {
	if c.styled {
		c.printf("  %s %s\n", RenderLabel(label+":"), ValueStyle.Render(fmt.Sprint(value)))
		return
	}
	c.printf("  %-18s %v\n", label+":", value)
}

func (c *Console) success(format string, args ...interface{}) {
	c.printf("%s\n", c.paint(SuccessStyle, fmt.Sprintf(format, args...)))
}

func (c *Console) warn(format string, args ...interface{}) {
	c.printf("%s\n", c.paint(WarningStyle, fmt.Sprintf(format, args...)))
}

func (c *Console) showBreach() {
	st := c.coord.Breach()
	if !st.HasBreach() {
		return
	}
	c.warn("! security breach: %s (type \"ack\" to dismiss)", st.ActiveBreach)
}

func (c *Console) printEvent(ev security.Event) {
	stamp := ev.Timestamp.Format("2006-01-02 15:04:05")
	kind := fmt.Sprintf("%-18s", ev.Kind)
	// Leave room for the timestamp and kind columns.
	msg := util.Truncate(ev.Message, c.width-len(stamp)-len(kind)-6)
	c.printf("  %s  %s %s\n", c.paint(DimStyle, stamp), kind, msg)
}

// =============================================================================
// LIFECYCLE COMMANDS
// =============================================================================

func (c *Console) cmdForeground(ctx context.Context, args []string) error {
	c.coord.HandleTransition(security.AppForeground)
	c.printf("app is in foreground\n")
	c.showBreach()
	return nil
}

func (c *Console) cmdBackground(ctx context.Context, args []string) error {
	c.coord.HandleTransition(security.AppBackground)
	c.printf("app is in background\n")
	return nil
}

// =============================================================================
// CLIPBOARD COMMANDS
// =============================================================================

func (c *Console) cmdCopy(ctx context.Context, args []string) error {
	var opts []security.ClipboardOption
	words := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--no-clear" {
			opts = append(opts, security.WithoutAutoClear())
			continue
		}
		words = append(words, a)
	}
	if len(words) == 0 {
		return fmt.Errorf("%w: copy <text> [--no-clear]", ErrUsage)
	}
	text := strings.Join(words, " ")

	if err := c.coord.Clipboard().SetSecure(ctx, text, opts...); err != nil {
		return err
	}
	if c.coord.Clipboard().PendingClear() {
		c.success("copied %d characters (auto-clear scheduled)", util.RuneLen(text))
	} else {
		c.success("copied %d characters", util.RuneLen(text))
	}
	return nil
}

func (c *Console) cmdClear(ctx context.Context, args []string) error {
	if err := c.coord.Clipboard().Clear(ctx); err != nil {
		return err
	}
	c.success("clipboard cleared")
	return nil
}

func (c *Console) cmdInspect(ctx context.Context, args []string) error {
	if err := c.coord.Clipboard().Inspect(ctx); err != nil {
		return err
	}
	c.printf("clipboard inspected\n")
	return nil
}

// =============================================================================
// VAULT COMMANDS
// =============================================================================

func (c *Console) cmdAck(ctx context.Context, args []string) error {
	c.coord.Acknowledge()
	c.printf("breach warning dismissed\n")
	return nil
}

func (c *Console) cmdLock(ctx context.Context, args []string) error {
	if err := c.coord.LockNow(); err != nil {
		return err
	}
	c.success("vault locked")
	return nil
}

func (c *Console) cmdUnlock(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: unlock <pin> [totp-code]", ErrUsage)
	}
	code := ""
	if len(args) == 2 {
		code = args[1]
	}
	if err := c.session.Unlock(args[0], code); err != nil {
		return err
	}
	// A fresh unlock starts a fresh inactivity countdown. A zero threshold
	// only locks on background, so there is nothing to arm.
	if c.coord.Lifecycle().Current == security.AppForeground && c.coord.Timer().Duration() > 0 {
		c.coord.Timer().Start()
	}
	c.success("vault unlocked")
	return nil
}

func (c *Console) cmdStatus(ctx context.Context, args []string) error {
	vs := c.session.Status()
	life := c.coord.Lifecycle()
	breach := c.coord.Breach()
	timer := c.coord.Timer()

	c.printf("%s\n", c.paint(TitleStyle, "vaultsec status"))

	if vs.Locked {
		c.field("Vault", "locked")
	} else {
		c.field("Vault", "unlocked since "+vs.UnlockedAt.Format("15:04:05"))
	}
	if !vs.LockedOutUntil.IsZero() {
		c.field("Lockout until", vs.LockedOutUntil.Format("15:04:05"))
	}
	c.field("Failed attempts", vs.Failures)
	c.field("Second factor", onOff(vs.SecondFactor))
	c.field("App state", life.Current)

	switch {
	case timer.Armed():
		c.field("Auto-lock in", timer.Remaining().Round(time.Second))
	case timer.Duration() == 0:
		c.field("Auto-lock", "on background")
	default:
		c.field("Auto-lock", "idle")
	}

	switch {
	case breach.HasBreach():
		c.field("Breach", breach.ActiveBreach)
	default:
		c.field("Breach", "none")
	}
	c.field("Compromised", breach.Compromised)
	c.field("Clipboard clear", onOff(c.coord.Clipboard().PendingClear()))
	c.field("Events", len(c.coord.Events()))
	return nil
}

// =============================================================================
// EVENT COMMANDS
// =============================================================================

func (c *Console) cmdEvents(ctx context.Context, args []string) error {
	n := DefaultEventsShown
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return fmt.Errorf("%w: events [n]", ErrUsage)
		}
		n = v
	}

	events := c.coord.Events()
	if len(events) == 0 {
		c.printf("no security events\n")
		return nil
	}
	if len(events) > n {
		events = events[len(events)-n:]
	}
	for _, ev := range events {
		c.printEvent(ev)
	}
	return nil
}

func (c *Console) cmdClearLog(ctx context.Context, args []string) error {
	c.coord.ClearEvents()
	c.printf("event log cleared\n")
	return nil
}

func (c *Console) cmdJournal(ctx context.Context, args []string) error {
	if c.journal == nil {
		return ErrNoJournal
	}
	f := storage.Filter{Limit: DefaultEventsShown}
	for _, a := range args {
		if n, err := strconv.Atoi(a); err == nil {
			if n <= 0 {
				return fmt.Errorf("%w: journal [kind] [limit]", ErrUsage)
			}
			f.Limit = n
			continue
		}
		kind := security.EventKind(a)
		if !kind.Valid() {
			return fmt.Errorf("unknown event kind %q", a)
		}
		f.Kind = kind
	}

	events, err := c.journal.Query(ctx, f)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		c.printf("journal is empty\n")
		return nil
	}
	for _, ev := range events {
		c.printEvent(ev)
	}
	return nil
}

// =============================================================================
// SETTINGS COMMANDS
// =============================================================================

func (c *Console) cmdAutoLock(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: autolock <minutes>", ErrUsage)
	}
	minutes, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("%w: autolock <minutes>", ErrUsage)
	}
	if err := c.coord.SetAutoLockMinutes(minutes); err != nil {
		return err
	}
	if c.cfg != nil {
		c.cfg.Security.AutoLockMinutes = minutes
	}
	if minutes == 0 {
		c.success("vault will lock when backgrounded")
	} else {
		c.success("auto-lock set to %d minute(s)", minutes)
	}
	return nil
}

func (c *Console) cmdCheck(ctx context.Context, args []string) error {
	verdict, err := c.coord.CheckCompliance(ctx)
	if err != nil {
		return err
	}
	if verdict.Compromised {
		c.printf("%s %s\n", c.statusTag("compromised"), verdict.Summary())
		return nil
	}
	c.printf("%s no compliance issues found\n", c.statusTag("clean"))
	return nil
}

func (c *Console) cmdSweep(ctx context.Context, args []string) error {
	if err := c.coord.RunChecksNow(ctx); err != nil {
		return err
	}
	c.printf("periodic checks complete\n")
	c.showBreach()
	return nil
}

func (c *Console) cmdConfig(ctx context.Context, args []string) error {
	if c.cfg == nil {
		return ErrNoConfig
	}
	usage := fmt.Errorf("%w: config get <key> | set <key> <value> | keys", ErrUsage)
	if len(args) == 0 {
		return usage
	}

	switch args[0] {
	case "keys":
		keys := config.Keys()
		sort.Strings(keys)
		for _, k := range keys {
			c.printf("  %s\n", k)
		}
		return nil

	case "get":
		if len(args) != 2 {
			return usage
		}
		v, err := c.cfg.Get(args[1])
		if err != nil {
			return err
		}
		if s, ok := v.(string); ok && isSecretKey(args[1]) && s != "" {
			v = util.Mask(s, 4)
		}
		c.printf("%s = %v\n", args[1], v)
		return nil

	case "set":
		if len(args) < 3 {
			return usage
		}
		return c.setConfig(args[1], strings.Join(args[2:], " "))

	default:
		return usage
	}
}

func (c *Console) setConfig(key, value string) error {
	next := c.cfg.Clone()
	if err := next.Set(key, value); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if next.Security.AutoLockMinutes != c.cfg.Security.AutoLockMinutes {
		if err := c.coord.SetAutoLockMinutes(next.Security.AutoLockMinutes); err != nil {
			return err
		}
	}
	*c.cfg = *next

	if c.cfgPath == "" {
		c.success("%s updated", key)
		return nil
	}
	var err error
	if strings.HasSuffix(c.cfgPath, ".json") {
		err = config.SaveJSON(c.cfg, c.cfgPath)
	} else {
		err = config.SaveTOML(c.cfg, c.cfgPath)
	}
	if err != nil {
		return err
	}
	c.success("%s updated and saved", key)
	return nil
}

func (c *Console) cmdHelp(ctx context.Context, args []string) error {
	seen := make(map[*command]bool)
	var list []*command
	for _, cmd := range c.commands {
		if !seen[cmd] {
			seen[cmd] = true
			list = append(list, cmd)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].name < list[j].name })

	c.printf("%s\n", c.paint(TitleStyle, "Commands"))
	for _, cmd := range list {
		c.printf("  %-44s %s\n", cmd.usage, c.paint(DimStyle, cmd.help))
	}
	c.printf("  %-44s %s\n", "quit", c.paint(DimStyle, "exit the console"))
	return nil
}

func (c *Console) statusTag(status string) string {
	if c.styled {
		return RenderStatus(status)
	}
	return "[" + strings.ToUpper(status) + "]"
}

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	return strings.HasSuffix(k, "pin_hash") || strings.HasSuffix(k, "totp_secret")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
