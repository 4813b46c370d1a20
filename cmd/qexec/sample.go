package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/seantiz/qexec/internal/engine"
	"github.com/seantiz/qexec/internal/kernels"
	"github.com/seantiz/qexec/internal/model"
)

var (
	sampleKernel string
	sampleQubits int
	sampleShots  int
	sampleQPU    int
	sampleAsync  bool
	sampleAll    bool
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Sample a library kernel and print its counts",
	Args:  cobra.NoArgs,
	RunE:  runSample,
}

func init() {
	f := sampleCmd.Flags()
	f.StringVarP(&sampleKernel, "kernel", "k", kernels.Bell, fmt.Sprintf("kernel to run %v", kernels.Names()))
	f.IntVarP(&sampleQubits, "qubits", "n", 0, "qubits for sized kernels (0 = default)")
	f.IntVarP(&sampleShots, "shots", "s", 0, "number of shots (0 = QEXEC_SHOTS)")
	f.IntVar(&sampleQPU, "qpu", 0, "QPU to run on")
	f.BoolVar(&sampleAsync, "async", false, "submit asynchronously and wait for the result")
	f.BoolVar(&sampleAll, "all", false, "run on every QPU concurrently")
}

func runSample(cmd *cobra.Command, args []string) error {
	a, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	k, err := kernels.Lookup(sampleKernel, sampleQubits)
	if err != nil {
		return err
	}
	shots := sampleShots
	if shots <= 0 {
		shots = a.cfg.Shots
	}

	qpus := []int{sampleQPU}
	if sampleAll {
		qpus = qpus[:0]
		for _, info := range a.engine.Platform().List() {
			qpus = append(qpus, info.ID)
		}
	}

	results := make([]model.SampleResult, len(qpus))
	g, ctx := errgroup.WithContext(cmd.Context())
	for i, id := range qpus {
		g.Go(func() error {
			res, err := sampleOne(ctx, a.engine, k, shots, id)
			if err != nil {
				return fmt.Errorf("qpu %d: %w", id, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i, id := range qpus {
		printCounts(out, k.Name, id, results[i])
	}
	return nil
}

func sampleOne(ctx context.Context, eng *engine.Engine, k engine.Kernel, shots, qpu int) (model.SampleResult, error) {
	if !sampleAsync {
		return eng.Sample(ctx, k, shots, qpu)
	}
	handle, err := eng.SampleAsync(ctx, k, shots, qpu)
	if err != nil {
		return model.SampleResult{}, err
	}
	return handle.Get()
}

func printCounts(w io.Writer, kernel string, qpu int, res model.SampleResult) {
	fmt.Fprintf(w, "%s on qpu %d (%d shots)\n", kernel, qpu, res.Total())
	for _, bits := range res.Bitstrings() {
		fmt.Fprintf(w, "  %s  %6d  %.4f\n", bits, res.Count(bits), res.Probability(bits))
	}
}
