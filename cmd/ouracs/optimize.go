package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/config"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/optimizer"
)

type optimizeOptions struct {
	inventory    string
	datacenterID string
	mode         string
	vmsFile      string
	seed         uint64
	execute      bool
	output       string
}

func (o *optimizeOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.inventory, "inventory", "", "Inventory snapshot file (overrides inventory.path)")
	fs.StringVarP(&o.datacenterID, "datacenter", "d", "", "Datacenter to optimize")
	fs.StringVar(&o.mode, "mode", string(optimizer.ModeConsolidation), "placement or consolidation")
	fs.StringVar(&o.vmsFile, "vms", "", "YAML list of VMs to place (placement mode)")
	fs.Uint64Var(&o.seed, "seed", 0, "RNG seed; 0 uses the configured seed")
	fs.BoolVar(&o.execute, "execute", false, "Apply the plan to the loaded inventory")
	fs.StringVarP(&o.output, "output", "o", "yaml", "Output format: yaml or json")
}

func newOptimizeCommand(configPath *string) *cobra.Command {
	opts := &optimizeOptions{}
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Run one optimization against an inventory snapshot and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(cmd.Context(), *configPath, opts, cmd.OutOrStdout())
		},
	}
	opts.addFlags(cmd.Flags())
	cmd.MarkFlagRequired("datacenter")
	return cmd
}

func runOptimize(ctx context.Context, configPath string, opts *optimizeOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.output != "yaml" && opts.output != "json" {
		return fmt.Errorf("unknown output format %q", opts.output)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if opts.inventory != "" {
		cfg.Inventory.Path = opts.inventory
	}
	if cfg.Inventory.Path == "" {
		return errors.New("an inventory file is required (--inventory or inventory.path)")
	}

	// Results go to stdout.
	cfg.Logging.Output = "stderr"
	logger, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	req := &optimizer.Request{
		DatacenterID: opts.datacenterID,
		Mode:         optimizer.Mode(opts.mode),
		Seed:         opts.seed,
		Execute:      opts.execute,
	}
	if opts.vmsFile != "" {
		req.VMs, err = loadVMs(opts.vmsFile)
		if err != nil {
			return err
		}
		if opts.execute {
			for _, vm := range req.VMs {
				if err := a.inventory.AddVM(opts.datacenterID, vm); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
					return err
				}
			}
		}
	}

	res, err := a.service.Optimize(ctx, req)
	if err != nil {
		return err
	}
	if res.Solution == nil {
		logger.Warn("No feasible solution found", zap.String("datacenter_id", opts.datacenterID))
	}
	return writeResult(out, res, opts.output)
}

func loadVMs(path string) ([]*domain.VM, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vms: %w", err)
	}
	var vms []*domain.VM
	if err := yaml.UnmarshalStrict(raw, &vms); err != nil {
		return nil, fmt.Errorf("failed to parse vms: %w", err)
	}
	return vms, nil
}

func writeResult(out io.Writer, res *optimizer.Result, format string) error {
	var (
		data []byte
		err  error
	)
	if format == "json" {
		data, err = json.MarshalIndent(res, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(res)
	}
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = out.Write(data)
	return err
}
