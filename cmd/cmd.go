// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/localllm/localllm/api"
	"github.com/localllm/localllm/envconfig"
	"github.com/localllm/localllm/ml"
	_ "github.com/localllm/localllm/ml/backend/sim"
	"github.com/localllm/localllm/runner/parallelrunner"
	"github.com/localllm/localllm/version"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	var usage strings.Builder
	usage.WriteString("\nEnvironment Variables:\n")
	for _, e := range envs {
		fmt.Fprintf(&usage, "  %s\n        %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + usage.String())
}

func versionHandler(cmd *cobra.Command, _ []string) {
	fmt.Println("localllm version is", version.Version)
}

// newRunnerCmd - Startet den Runner-HTTP-Server
func newRunnerCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "runner",
		Short:              "Run the generation runner server",
		Hidden:             true,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return parallelrunner.Execute(args)
		},
	}
}

// newGenerateCmd - Einmalige parallele Generierung ueber Argument-Prompts
func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate PROMPT...",
		Short: "Generate completions for one or more prompts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rtName, _ := cmd.Flags().GetString("runtime")
			mpath, _ := cmd.Flags().GetString("model")
			numPredict, _ := cmd.Flags().GetInt("num-predict")
			seed, _ := cmd.Flags().GetInt("seed")
			temp, _ := cmd.Flags().GetFloat32("temperature")
			parallel, _ := cmd.Flags().GetInt("parallel")

			rt, err := ml.NewRuntime(rtName, mpath, ml.RuntimeParams{})
			if err != nil {
				return err
			}
			defer rt.Close()

			lc, err := rt.NewContext(ml.ContextParams{
				NumCtx:    int(envconfig.ContextLength()),
				BatchSize: int(envconfig.BatchSize()),
				NumSeqMax: parallel + 1,
			})
			if err != nil {
				return err
			}
			defer lc.Close()

			opts := api.DefaultOptions()
			opts.NumPredict = numPredict
			opts.Seed = seed
			opts.Temperature = temp

			engine := parallelrunner.NewEngine(lc)
			results, err := engine.GenerateParallel(cmd.Context(), args, parallelrunner.Params{
				NumPredict:    opts.NumPredict,
				TopK:          opts.TopK,
				TopP:          opts.TopP,
				Temperature:   opts.Temperature,
				RepeatLastN:   opts.RepeatLastN,
				RepeatPenalty: opts.RepeatPenalty,
				Seed:          opts.Seed,
				ShowProgress:  !envconfig.NoProgress() && term.IsTerminal(int(os.Stderr.Fd())),
			})
			if err != nil {
				return err
			}

			for i, result := range results {
				fmt.Printf("%d: %s\n", i, result)
			}
			return nil
		},
	}

	cmd.Flags().String("runtime", "sim", "Registered runtime to load")
	cmd.Flags().String("model", "", "Path to model binary file")
	cmd.Flags().Int("num-predict", 16, "Maximum number of tokens to generate per prompt")
	cmd.Flags().Int("seed", -1, "Sampling seed (negative: derive from clock)")
	cmd.Flags().Float32("temperature", 0, "Sampling temperature")
	cmd.Flags().Int("parallel", int(envconfig.NumParallel()), "Number of parallel sequence slots")
	return cmd
}

// newEnvCmd - Zeigt die wirksame Umgebungs-Konfiguration
func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "env",
		Short:  "Show environment configuration",
		Hidden: true,
		Run: func(cmd *cobra.Command, _ []string) {
			envs := make([]envconfig.EnvVar, 0)
			for _, v := range envconfig.AsMap() {
				envs = append(envs, v)
			}
			sort.Slice(envs, func(i, j int) bool { return envs[i].Name < envs[j].Name })
			for _, e := range envs {
				fmt.Printf("%-24s %v\n", e.Name, e.Value)
			}
		},
	}
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	// Windows-Konsolen brauchen die VT-Verarbeitung bevor cobra rendert
	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdin.Fd())) {
		_, _ = console.ConsoleFromFile(os.Stdin)
	}

	rootCmd := &cobra.Command{
		Use:           "localllm",
		Short:         "Parallel generation scheduler for local language models",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	generateCmd := newGenerateCmd()
	runnerCmd := newRunnerCmd()
	envCmd := newEnvCmd()

	envVars := envconfig.AsMap()
	appendEnvDocs(generateCmd, []envconfig.EnvVar{
		envVars["LOCALLLM_CONTEXT_LENGTH"],
		envVars["LOCALLLM_BATCH"],
		envVars["LOCALLLM_NUM_PARALLEL"],
		envVars["LOCALLLM_NOPROGRESS"],
	})

	rootCmd.AddCommand(
		generateCmd,
		runnerCmd,
		envCmd,
	)

	return rootCmd
}
