package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"safesleep-telemetry/internal/models"
	"safesleep-telemetry/internal/report"
	"safesleep-telemetry/internal/repository"
)

// deviceStore 管理命令用到的设备操作
type deviceStore interface {
	CreateDevice(ctx context.Context, d *models.Device) (int64, error)
	GetDevice(ctx context.Context, name string) (*models.Device, error)
	ListDevices(ctx context.Context, pattern string) ([]*models.Device, error)
	RequestActuation(ctx context.Context, name string, req repository.ActuationRequest) error
	UpdateDeviceState(ctx context.Context, name, state string) error
	DeleteDevice(ctx context.Context, name string) error
}

// readingStore 管理命令用到的读数查询
type readingStore interface {
	ListReadings(ctx context.Context, pattern string, limit int) ([]*models.Reading, error)
	ListReadingsBetween(ctx context.Context, pattern, from, to string) ([]*models.Reading, error)
	AverageValue(ctx context.Context, pattern string) (float64, int, error)
}

type app struct {
	devices  deviceStore
	readings readingStore
	reports  *report.Service
	out      io.Writer
	logger   *zap.Logger
}

type command struct {
	name    string
	summary string
	flags   *pflag.FlagSet
	run     func(ctx context.Context, args []string) error
}

var errUsage = errors.New("usage error")

func (a *app) commands() []*command {
	return []*command{
		a.provisionCommand(),
		a.actuateCommand(),
		a.stateCommand(),
		a.devicesCommand(),
		a.deleteCommand(),
		a.readingsCommand(),
		a.reportCommand(),
		a.exportCommand(),
	}
}

// execute 按第一个参数分发子命令
func (a *app) execute(ctx context.Context, args []string) error {
	cmds := a.commands()
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage(a.out, cmds)
		if len(args) == 0 {
			return errUsage
		}
		return nil
	}

	for _, cmd := range cmds {
		if cmd.name != args[0] {
			continue
		}
		if err := cmd.flags.Parse(args[1:]); err != nil {
			if errors.Is(err, pflag.ErrHelp) {
				return nil
			}
			return fmt.Errorf("%w: %s: %v", errUsage, cmd.name, err)
		}
		return cmd.run(ctx, cmd.flags.Args())
	}

	printUsage(a.out, cmds)
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

func printUsage(w io.Writer, cmds []*command) {
	fmt.Fprintln(w, "Usage: safesleep-admin <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range cmds {
		fmt.Fprintf(tw, "  %s\t%s\n", c.name, c.summary)
	}
	tw.Flush()
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

func required(fs *pflag.FlagSet, names ...string) error {
	var missing []string
	for _, n := range names {
		if v, _ := fs.GetString(n); v == "" {
			missing = append(missing, "--"+n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s requires %s", errUsage, fs.Name(), strings.Join(missing, ", "))
	}
	return nil
}

func (a *app) provisionCommand() *command {
	fs := newFlagSet("provision")
	d := &models.Device{}
	var disabled bool
	fs.StringVar(&d.Name, "name", "", "unique device name")
	fs.StringVar(&d.DeviceType, "type", "", "device type: dht, meter, alarm, motion")
	fs.StringVar(&d.PubTopic, "pub-topic", "", "topic the device publishes on")
	fs.StringVar(&d.SubTopic, "sub-topic", "", "topic the device listens on for commands")
	fs.StringVar(&d.Units, "units", "", "measurement units")
	fs.StringVar(&d.Placement, "placement", "", "where the device is placed")
	fs.StringVar(&d.CardID, "card-id", "", "SafeSleep card id (generated when empty)")
	fs.StringVar(&d.Mode, "mode", "", "initial operating mode")
	fs.Float64Var(&d.Temperature, "temperature", 0, "initial temperature setpoint")
	fs.IntVar(&d.UpdateInterval, "interval", 0, "update interval in seconds")
	fs.BoolVar(&disabled, "disabled", false, "provision the device disabled")

	return &command{
		name:    "provision",
		summary: "register a device",
		flags:   fs,
		run: func(ctx context.Context, _ []string) error {
			if err := required(fs, "name", "type", "pub-topic", "sub-topic"); err != nil {
				return err
			}
			if d.CardID == "" {
				d.CardID = "card-" + uuid.NewString()
			}
			d.Enabled = !disabled
			id, err := a.devices.CreateDevice(ctx, d)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "provisioned %s (sys_id %d, card %s)\n", d.Name, id, d.CardID)
			return nil
		},
	}
}

func (a *app) actuateCommand() *command {
	fs := newFlagSet("actuate")
	var name, mode, state string
	var temperature float64
	fs.StringVar(&name, "name", "", "device name")
	fs.Float64Var(&temperature, "temperature", 0, "new temperature setpoint")
	fs.StringVar(&mode, "mode", "", "new operating mode (\"alarm\" sends the setpoint)")
	fs.StringVar(&state, "state", "", "new device state")

	return &command{
		name:    "actuate",
		summary: "request an actuation; the manager dispatches it on its next cycle",
		flags:   fs,
		run: func(ctx context.Context, _ []string) error {
			if err := required(fs, "name"); err != nil {
				return err
			}
			req := repository.ActuationRequest{Mode: mode, State: state}
			if fs.Changed("temperature") {
				req.Temperature = &temperature
			}
			if err := a.devices.RequestActuation(ctx, name, req); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "actuation requested for %s\n", name)
			return nil
		},
	}
}

func (a *app) stateCommand() *command {
	fs := newFlagSet("state")
	var name, state string
	fs.StringVar(&name, "name", "", "device name")
	fs.StringVar(&state, "state", "", "device state, e.g. on / off")

	return &command{
		name:    "state",
		summary: "record a device state without dispatching a command",
		flags:   fs,
		run: func(ctx context.Context, _ []string) error {
			if err := required(fs, "name", "state"); err != nil {
				return err
			}
			return a.devices.UpdateDeviceState(ctx, name, state)
		},
	}
}

func (a *app) devicesCommand() *command {
	fs := newFlagSet("devices")
	var pattern string
	fs.StringVar(&pattern, "pattern", "%", "name LIKE pattern")

	return &command{
		name:    "devices",
		summary: "list devices",
		flags:   fs,
		run: func(ctx context.Context, _ []string) error {
			devices, err := a.devices.ListDevices(ctx, pattern)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTYPE\tSTATUS\tSTATE\tMODE\tTEMPERATURE\tRECONCILE\tLAST UPDATED")
			for _, d := range devices {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%g\t%s\t%s\n",
					d.Name, d.DeviceType, d.Status, d.State, d.Mode, d.Temperature,
					reconcileLabel(d.Reconcile), models.FormatTimestamp(d.LastUpdated))
			}
			return tw.Flush()
		},
	}
}

func (a *app) deleteCommand() *command {
	fs := newFlagSet("delete")
	var name string
	var yes bool
	fs.StringVar(&name, "name", "", "device name")
	fs.BoolVar(&yes, "yes", false, "confirm deletion")

	return &command{
		name:    "delete",
		summary: "delete a device (readings are kept)",
		flags:   fs,
		run: func(ctx context.Context, _ []string) error {
			if err := required(fs, "name"); err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("%w: refusing to delete %s without --yes", errUsage, name)
			}
			if _, err := a.devices.GetDevice(ctx, name); err != nil {
				return err
			}
			if err := a.devices.DeleteDevice(ctx, name); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deleted %s\n", name)
			return nil
		},
	}
}

func (a *app) readingsCommand() *command {
	fs := newFlagSet("readings")
	var pattern, from, to string
	var limit int
	fs.StringVar(&pattern, "pattern", "%", "name LIKE pattern")
	fs.StringVar(&from, "from", "", "start time (2006-01-02 15:04:05)")
	fs.StringVar(&to, "to", "", "end time (2006-01-02 15:04:05)")
	fs.IntVar(&limit, "limit", 0, "maximum rows (0 = all)")

	return &command{
		name:    "readings",
		summary: "list readings, optionally within a time range",
		flags:   fs,
		run: func(ctx context.Context, _ []string) error {
			var (
				readings []*models.Reading
				err      error
			)
			if from != "" || to != "" {
				if err := validateRange(from, to); err != nil {
					return err
				}
				readings, err = a.readings.ListReadingsBetween(ctx, pattern, from, to)
			} else {
				readings, err = a.readings.ListReadings(ctx, pattern, limit)
			}
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTIMESTAMP\tVALUE")
			for _, r := range readings {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.ID, r.Name, r.Timestamp, r.Value)
			}
			return tw.Flush()
		},
	}
}

func (a *app) reportCommand() *command {
	fs := newFlagSet("report")
	return &command{
		name:    "report",
		summary: "print the home status summary",
		flags:   fs,
		run: func(ctx context.Context, _ []string) error {
			status, err := a.reports.HomeStatus(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, status.Text())
			return nil
		},
	}
}

func (a *app) exportCommand() *command {
	fs := newFlagSet("export")
	var pattern, from, to, out string
	fs.StringVar(&pattern, "pattern", "%", "name LIKE pattern")
	fs.StringVar(&from, "from", "", "start time (2006-01-02 15:04:05)")
	fs.StringVar(&to, "to", "", "end time (2006-01-02 15:04:05)")
	fs.StringVarP(&out, "out", "o", "readings.xlsx", "output workbook")

	return &command{
		name:    "export",
		summary: "export readings to an xlsx workbook",
		flags:   fs,
		run: func(ctx context.Context, _ []string) error {
			if err := required(fs, "from", "to"); err != nil {
				return err
			}
			if err := validateRange(from, to); err != nil {
				return err
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			n, err := a.reports.ExportReadings(ctx, f, pattern, from, to)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "exported %d readings to %s\n", n, out)
			return nil
		},
	}
}

func validateRange(from, to string) error {
	start, err := models.ParseTimestamp(from)
	if err != nil {
		return fmt.Errorf("%w: invalid --from %q", errUsage, from)
	}
	end, err := models.ParseTimestamp(to)
	if err != nil {
		return fmt.Errorf("%w: invalid --to %q", errUsage, to)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: --to is before --from", errUsage)
	}
	return nil
}

func reconcileLabel(f models.ReconcileFlag) string {
	if f == models.ReconcileNone {
		return "-"
	}
	return string(f)
}
