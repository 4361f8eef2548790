package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	machinery "github.com/RichardKnop/machinery/v2"
	"github.com/RichardKnop/machinery/v2/tasks"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/queueprobe/queueprobe/internal/config"
	"github.com/queueprobe/queueprobe/internal/sidechannel"
	"github.com/queueprobe/queueprobe/internal/worker"
)

var (
	cfgFile    string
	redisAddr  string
	redisDB    int
	queueName  string
	timeout    time.Duration
	outputJSON bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "probectl",
	Short: "Queueprobe CLI - Dispatch probe tasks against a running worker",
	Long: `Queueprobe CLI (probectl) is a command line tool for dispatching probe
tasks to a queueprobe worker over the redis broker.

You can use it to send individual probes, compose chains, groups and
chords, run the smoke suite, and inspect or clear the side channel.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.probectl.yaml)")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "localhost:6379", "redis broker address (host:port)")
	rootCmd.PersistentFlags().IntVar(&redisDB, "db", 0, "redis broker database")
	rootCmd.PersistentFlags().StringVar(&queueName, "queue", "queueprobe_tasks", "task queue name")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "result wait timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	// Bind flags to viper
	viper.BindPFlag("redis", rootCmd.PersistentFlags().Lookup("redis"))
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("queue", rootCmd.PersistentFlags().Lookup("queue"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".probectl")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Override global variables with config values if flags weren't explicitly set
	if !rootCmd.PersistentFlags().Changed("redis") {
		if s := viper.GetString("redis"); s != "" {
			redisAddr = s
		}
	}
	if !rootCmd.PersistentFlags().Changed("db") {
		if viper.IsSet("db") {
			redisDB = viper.GetInt("db")
		}
	}
	if !rootCmd.PersistentFlags().Changed("queue") {
		if s := viper.GetString("queue"); s != "" {
			queueName = s
		}
	}
	if !rootCmd.PersistentFlags().Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !rootCmd.PersistentFlags().Changed("json") {
		outputJSON = viper.GetBool("json")
	}
}

// cliConfig renders the global flags as a worker config.
func cliConfig() config.Config {
	cfg := config.FromEnv()
	host, port, ok := strings.Cut(redisAddr, ":")
	if ok {
		cfg.Redis.Host = host
		cfg.Redis.Port = port
	}
	cfg.Redis.DB = redisDB
	cfg.Redis.SideDB = redisDB
	cfg.Queue.Name = queueName
	return cfg
}

// getServer builds a framework server handle for dispatching.
func getServer() *machinery.Server {
	return worker.BuildServer(cliConfig())
}

// getSideChannel connects to the side-channel redis.
func getSideChannel() *sidechannel.Client {
	return sidechannel.New(cliConfig().Redis)
}

// parseSignature parses a name:arg:arg token into a signature. Arguments
// that parse as integers are typed int64, everything else is a string.
func parseSignature(token string) (*tasks.Signature, error) {
	parts := strings.Split(token, ":")
	if parts[0] == "" {
		return nil, fmt.Errorf("empty task name in %q", token)
	}
	sig := &tasks.Signature{Name: parts[0]}
	for _, p := range parts[1:] {
		sig.Args = append(sig.Args, parseArg(p))
	}
	return sig, nil
}

func parseArg(s string) tasks.Arg {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return tasks.Arg{Type: "int64", Value: i}
	}
	return tasks.Arg{Type: "string", Value: s}
}

// parseHeaders parses repeated key=value flags into signature headers.
func parseHeaders(pairs []string) (tasks.Headers, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	headers := tasks.Headers{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid header %q, want key=value", p)
		}
		headers[k] = v
	}
	return headers, nil
}

// printOutput prints the response in the requested format
func printOutput(v interface{}) {
	if outputJSON {
		jsonData, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling to JSON: %v\n", err)
			return
		}
		fmt.Println(string(jsonData))
	} else {
		fmt.Printf("%+v\n", v)
	}
}
