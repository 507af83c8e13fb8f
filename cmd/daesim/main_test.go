package main

import (
	"strings"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func testCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "run"}
	integrationFlags(cmd)
	return cmd
}

func TestLoadOptionsAppliesFlagOverrides(t *testing.T) {
	g := NewWithT(t)
	viper.Reset()
	cmd := testCommand()
	configFile = ""
	g.Expect(cmd.Flags().Set("reltol", "1e-9")).To(Succeed())
	g.Expect(cmd.Flags().Set("linear_solver_type", "iterative")).To(Succeed())

	o, err := loadOptions(cmd)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(o.RelTol).To(Equal(1e-9))
	g.Expect(o.LinearSolverType).To(Equal("iterative"))
	g.Expect(o.AbsTol).To(Equal(1e-8))
}

func TestLoadOptionsUnknownPreset(t *testing.T) {
	g := NewWithT(t)
	viper.Reset()
	cmd := testCommand()
	configFile = ""
	g.Expect(cmd.Flags().Set("preset", "nope")).To(Succeed())

	_, err := loadOptions(cmd)
	g.Expect(err).To(MatchError(ContainSubstring("krylov")))
}

func TestLoadCaseBuildsGridAndSeeds(t *testing.T) {
	g := NewWithT(t)
	cmd := testCommand()
	g.Expect(cmd.Flags().Set("tf", "2")).To(Succeed())
	g.Expect(cmd.Flags().Set("outputs", "4")).To(Succeed())
	g.Expect(cmd.Flags().Set("sens", "true")).To(Succeed())
	g.Expect(cmd.Flags().Set("adjoint-x", "1")).To(Succeed())
	defer func() { seedX = nil }()
	_, in, err := loadCase(cmd, "linear")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(in.Tf).To(Equal(2.0))
	g.Expect(in.Grid).To(Equal([]float64{0.5, 1, 1.5}))
	g.Expect(in.Sensitivities).To(BeTrue())
	g.Expect(in.AdjointSeeds).NotTo(BeNil())
	g.Expect(in.AdjointSeeds.X).To(Equal([]float64{1}))
}

func TestLoadCaseDefaultsSurviveEarlierRuns(t *testing.T) {
	g := NewWithT(t)
	outputs, sens, seedX = 3, true, []float64{2}
	cmd := testCommand()
	_, in, err := loadCase(cmd, "linear")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(in.Grid).To(HaveLen(49))
	g.Expect(in.Sensitivities).To(BeFalse())
	g.Expect(in.AdjointSeeds).To(BeNil())
}

func TestLoadCaseParamCount(t *testing.T) {
	g := NewWithT(t)
	cmd := testCommand()
	g.Expect(cmd.Flags().Set("params", "1,2,3,4,5,6,7")).To(Succeed())
	_, _, err := loadCase(cmd, "linear")
	g.Expect(err).To(MatchError(ContainSubstring("parameters")))
}

func TestStatsTablePairsDirections(t *testing.T) {
	g := NewWithT(t)
	out := statsTable(map[string]int{"nsteps": 12, "nstepsB": 7, "nlinsetups": 3, "nlinsetupsB": 2})
	lines := strings.Split(out, "\n")
	var row string
	for _, l := range lines {
		if strings.Contains(l, "nsteps") {
			row = l
		}
	}
	g.Expect(row).To(ContainSubstring("12"))
	g.Expect(row).To(ContainSubstring("7"))
	g.Expect(out).NotTo(ContainSubstring("nstepsB"))
}
