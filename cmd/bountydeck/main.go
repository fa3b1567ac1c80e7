package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/poidh-tools/bountydeck/internal/buildinfo"
	"github.com/poidh-tools/bountydeck/pkg/core"
	"github.com/poidh-tools/bountydeck/pkg/daemon/service"
	"github.com/poidh-tools/bountydeck/pkg/manifest"
	"github.com/poidh-tools/bountydeck/pkg/transport/uds"
	tuimodel "github.com/poidh-tools/bountydeck/pkg/tui/model"
)

var socketPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bountydeck",
	Short: "Control panel for the POIDH bounty worker",
	Long:  "Bountydeck is a TUI + daemon that launches bounty runs, streams their output, and tails the worker's bot log and audit trail.",
	RunE:  runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/tmp/bountydeck.sock", "daemon socket path")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(walletCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(initCmd)
}

// --- Root: TUI ---

func runTUI(_ *cobra.Command, _ []string) error {
	ensureDaemon()
	app := tuimodel.New(socketPath)
	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func ensureDaemon() {
	if _, err := os.Stat(socketPath); err == nil {
		return
	}
	cmd := exec.Command("bountydeckd", "--socket", socketPath)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not start bountydeckd: %v\n", err)
		return
	}
	for i := 0; i < 30; i++ {
		if _, err := os.Stat(socketPath); err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "warning: could not start daemon, continuing anyway")
}

func dialDaemon() (*uds.Client, error) {
	client, err := uds.Dial(socketPath)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon at %s: %w", socketPath, err)
	}
	return client, nil
}

func request(method string, data, out any, timeout time.Duration) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.Request(ctx, method, data)
	if err != nil {
		return err
	}
	if out != nil {
		return resp.UnmarshalData(out)
	}
	return nil
}

// --- Ping ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if daemon is running",
	RunE: func(_ *cobra.Command, _ []string) error {
		var pong uds.PingResponse
		if err := request(uds.MethodPing, nil, &pong, 2*time.Second); err != nil {
			return err
		}
		if pong.Pong {
			fmt.Printf("pong ✓ (daemon %s)\n", pong.Version)
		}
		return nil
	},
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("bountydeck %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}

// --- Daemon ---

var manifestFlag string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run or manage the background daemon",
	Long:  "Normally the TUI auto-spawns the daemon. Use this to run it in the foreground or manage its systemd user unit.",
	RunE: func(_ *cobra.Command, _ []string) error {
		args := []string{"--socket", socketPath}
		if manifestFlag != "" {
			args = append(args, "--manifest", manifestFlag)
		}
		cmd := exec.Command("bountydeckd", args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Run()
	},
}

var daemonInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and start the systemd user service",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := service.Install(manifestFlag); err != nil {
			return err
		}
		fmt.Println("bountydeckd service installed and started")
		return nil
	},
}

var daemonUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the systemd user service",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := service.Uninstall(); err != nil {
			return err
		}
		fmt.Println("bountydeckd service removed")
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon socket and service state",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(service.Status(socketPath))
	},
}

func init() {
	daemonCmd.PersistentFlags().StringVar(&manifestFlag, "manifest", "", "path to bountydeck.yaml")
	daemonCmd.AddCommand(daemonInstallCmd)
	daemonCmd.AddCommand(daemonUninstallCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
}

// --- Status ---

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status [slot]",
	Short: "Show job status for one slot or all slots",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if len(args) == 1 {
			var res uds.StatusResponse
			if err := request(uds.MethodStatus, uds.StatusRequest{Slot: args[0]}, &res, 2*time.Second); err != nil {
				return err
			}
			if statusJSON {
				return printJSON(res.Job)
			}
			printJobTable([]core.Job{res.Job})
			return nil
		}

		var res uds.ListJobsResponse
		if err := request(uds.MethodListJobs, nil, &res, 2*time.Second); err != nil {
			return err
		}
		if statusJSON {
			return printJSON(res.Jobs)
		}
		if len(res.Jobs) == 0 {
			fmt.Println("no jobs")
			return nil
		}
		printJobTable(res.Jobs)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJobTable(jobs []core.Job) {
	fmt.Printf("%-14s %-10s %-6s %-10s %s\n", "SLOT", "STATE", "EXIT", "CAUSE", "COMMAND")
	for _, j := range jobs {
		exit := "-"
		if j.ExitCode != nil {
			exit = fmt.Sprintf("%d", *j.ExitCode)
		}
		cause := string(j.Cause)
		if cause == "" {
			cause = "-"
		}
		cmdline := strings.TrimSpace(j.Program + " " + strings.Join(j.Args, " "))
		fmt.Printf("%-14s %-10s %-6s %-10s %s\n", j.Slot, j.State, exit, cause, cmdline)
	}
}

// --- Launch ---

var (
	launchSlot    string
	launchCommand string
	launchTimeout int
)

var launchCmd = &cobra.Command{
	Use:   "launch [bounty]",
	Short: "Launch a bounty run (or an arbitrary command with --command)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		req := uds.LaunchRequest{
			Slot:       launchSlot,
			Command:    launchCommand,
			TimeoutSec: launchTimeout,
		}
		if len(args) == 1 {
			req.Bounty = args[0]
		}
		if req.Bounty == "" && req.Command == "" {
			return fmt.Errorf("either a bounty name or --command is required")
		}

		var res uds.LaunchResponse
		if err := request(uds.MethodLaunch, req, &res, 10*time.Second); err != nil {
			return err
		}
		fmt.Printf("launched %s in slot %s (job %s)\n", res.Job.Program, res.Job.Slot, res.Job.ID)
		return nil
	},
}

func init() {
	launchCmd.Flags().StringVar(&launchSlot, "slot", "", "slot name (defaults to the bounty name)")
	launchCmd.Flags().StringVar(&launchCommand, "command", "", "raw command line instead of a bounty preset")
	launchCmd.Flags().IntVar(&launchTimeout, "timeout", 0, "cancel the job after this many seconds")
}

// --- Cancel ---

var cancelForce bool

var cancelCmd = &cobra.Command{
	Use:   "cancel <slot>",
	Short: "Cancel the job running in a slot",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if err := request(uds.MethodCancel, uds.CancelRequest{Slot: args[0], Force: cancelForce}, nil, 30*time.Second); err != nil {
			return err
		}
		fmt.Printf("cancelled %s ✓\n", args[0])
		return nil
	},
}

func init() {
	cancelCmd.Flags().BoolVar(&cancelForce, "force", false, "kill immediately, skipping the grace period")
}

// --- Output ---

var outputLines int

var outputCmd = &cobra.Command{
	Use:   "output <slot>",
	Short: "Print a slot's recent job output",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		var res uds.JobOutputResponse
		if err := request(uds.MethodJobOutput, uds.JobOutputRequest{Slot: args[0], Lines: outputLines}, &res, 2*time.Second); err != nil {
			return err
		}
		for _, line := range res.Lines {
			printOutputLine(line)
		}
		return nil
	},
}

func init() {
	outputCmd.Flags().IntVar(&outputLines, "lines", 100, "number of lines to show")
}

func printOutputLine(line core.OutputLine) {
	if line.Stream == core.StreamStderr {
		fmt.Fprintln(os.Stderr, line.Text)
		return
	}
	fmt.Println(line.Text)
}

// --- Monitor ---

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the worker's monitor and stream its output until interrupted",
	RunE: func(_ *cobra.Command, _ []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		done := make(chan core.Job, 1)
		client.OnEvent(func(msg uds.Message) {
			switch msg.Method {
			case uds.EventJobOutput:
				var line core.OutputLine
				if msg.UnmarshalData(&line) == nil && line.Slot == "monitor" {
					printOutputLine(line)
				}
			case uds.EventJobStatus:
				var j core.Job
				if msg.UnmarshalData(&j) == nil && j.Slot == "monitor" && j.State.Terminal() {
					select {
					case done <- j:
					default:
					}
				}
			}
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := client.Request(ctx, uds.MethodLaunch, uds.LaunchRequest{Bounty: "monitor"}); err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case j := <-done:
			if !j.Succeeded() {
				return fmt.Errorf("monitor ended: %s", j.State)
			}
			return nil
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "stopping monitor...")
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			_, err := client.Request(stopCtx, uds.MethodCancel, uds.CancelRequest{Slot: "monitor"})
			return err
		}
	},
}

// --- Logs ---

var logsLines int

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the tail of the worker's bot log",
	RunE: func(_ *cobra.Command, _ []string) error {
		var res uds.TailLogsResponse
		if err := request(uds.MethodTailLogs, uds.TailLogsRequest{Lines: logsLines}, &res, 5*time.Second); err != nil {
			return err
		}
		for _, line := range res.Lines {
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().IntVar(&logsLines, "lines", 100, "number of lines to show")
}

// --- Audit ---

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the worker's audit trail",
}

var auditLimit int

var auditShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print recent audit entries",
	RunE: func(_ *cobra.Command, _ []string) error {
		var res uds.AuditRecentResponse
		if err := request(uds.MethodAuditRecent, uds.AuditRecentRequest{Limit: auditLimit}, &res, 5*time.Second); err != nil {
			return err
		}
		if len(res.Entries) == 0 {
			fmt.Println("no audit entries")
			return nil
		}
		for _, e := range res.Entries {
			line := e.Timestamp + "  " + e.Action
			if e.Outcome != "" {
				line += "  → " + e.Outcome
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	auditShowCmd.Flags().IntVar(&auditLimit, "limit", 50, "number of entries to show (0 for all)")
	auditCmd.AddCommand(auditShowCmd)
}

// --- Config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the worker's .env",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the worker's .env keys (secrets masked)",
	RunE: func(_ *cobra.Command, _ []string) error {
		var res uds.ConfigGetResponse
		if err := request(uds.MethodConfigGet, nil, &res, 5*time.Second); err != nil {
			return err
		}
		fmt.Printf("# %s\n", res.Path)
		for _, e := range res.Entries {
			fmt.Printf("%s=%s\n", e.Key, e.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write one .env key",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		if err := request(uds.MethodConfigSet, uds.ConfigSetRequest{Key: args[0], Value: args[1]}, nil, 5*time.Second); err != nil {
			return err
		}
		fmt.Printf("set %s ✓\n", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- Wallet ---

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Run the worker's wallet scripts",
}

var walletCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new worker wallet",
	RunE: func(_ *cobra.Command, _ []string) error {
		var res uds.WalletCreateResponse
		if err := request(uds.MethodWalletCreate, nil, &res, 3*time.Minute); err != nil {
			return err
		}
		for _, line := range res.Output {
			fmt.Println(line)
		}
		fmt.Printf("\naddress: %s\n", res.Address)
		fmt.Fprintln(os.Stderr, "the private key above is shown once; store it safely")
		return nil
	},
}

var walletBalanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the worker wallet's balance",
	RunE: func(_ *cobra.Command, _ []string) error {
		var res uds.WalletBalanceResponse
		if err := request(uds.MethodWalletBalance, nil, &res, 3*time.Minute); err != nil {
			return err
		}
		for _, line := range res.Output {
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	walletCmd.AddCommand(walletCreateCmd)
	walletCmd.AddCommand(walletBalanceCmd)
}

// --- Health ---

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the worker's chain RPC endpoint responds",
	RunE: func(_ *cobra.Command, _ []string) error {
		var res uds.HealthResponse
		if err := request(uds.MethodHealth, nil, &res, 15*time.Second); err != nil {
			return err
		}
		fmt.Printf("rpc ok: %s (chain %d)\n", res.RPCURL, res.ChainID)
		return nil
	},
}

// --- Init ---

var (
	initRoot   string
	initOutput string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a bountydeck.yaml for a worker checkout",
	RunE: func(_ *cobra.Command, _ []string) error {
		m := manifest.Default(initRoot)
		if errs := manifest.Validate(m); len(errs) > 0 {
			return fmt.Errorf("generated manifest invalid: %v", errs)
		}
		if err := manifest.Save(m, initOutput); err != nil {
			return err
		}
		fmt.Printf("Generated %s with %d bounty presets\n", initOutput, len(m.Bounties))
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initRoot, "root", ".", "worker checkout directory")
	initCmd.Flags().StringVar(&initOutput, "output", "bountydeck.yaml", "output file path")
}
