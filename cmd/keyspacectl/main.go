// keyspacectl is a REPL-free CLI over an in-process Keyspace, exercising the
// commands package the way a real client driver would: one command line in,
// one Reply out. There is no network transport here (out of scope) — this
// is a debugging/inspection tool, wired with cobra+viper the way
// ValentinKolb-dKV/cmd/root.go wires its dkv CLI.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pomaidb/keyspace/internal/keyspace/commands"
	"github.com/pomaidb/keyspace/internal/keyspace/keyspace"
	"github.com/pomaidb/keyspace/internal/keyspace/object"
	"github.com/pomaidb/keyspace/internal/keyspace/propagation"
)

const version = "0.1.0"

type stdoutSink struct{}

func (stdoutSink) Feed(dbID int, argv []string) {
	fmt.Printf("[propagate] db=%d %s\n", dbID, strings.Join(argv, " "))
}

func (stdoutSink) AlsoPropagate(dbID int, targets [][]string) {
	for _, t := range targets {
		fmt.Printf("[propagate] db=%d %s\n", dbID, strings.Join(t, " "))
	}
}

var (
	ks       *keyspace.Keyspace
	registry map[string]commands.Handler
	dbIndex  int

	rootCmd = &cobra.Command{
		Use:   "keyspacectl",
		Short: "inspect and drive an in-process keyspace core",
		Long:  fmt.Sprintf("keyspacectl (v%s)\n\nA command-line driver over the keyspace core, for local inspection and scripting.", version),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initKeyspace()
		},
	}

	execCmd = &cobra.Command{
		Use:   "exec [command] [args...]",
		Short: "run one command against the keyspace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOne(args)
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "print keyspacectl's version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("keyspacectl v%s\n", version)
		},
	}
)

func init() {
	viper.SetEnvPrefix("KEYSPACECTL")
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().Int("db", 0, "database index to operate against")
	rootCmd.PersistentFlags().Int("numdbs", 16, "number of logical databases to create")
	rootCmd.PersistentFlags().String("access-mode", "lru", "eviction access-metadata mode: lru or lfu")
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("numdbs", rootCmd.PersistentFlags().Lookup("numdbs"))
	_ = viper.BindPFlag("access-mode", rootCmd.PersistentFlags().Lookup("access-mode"))

	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(versionCmd)
}

func accessMode() object.AccessMode {
	if viper.GetString("access-mode") == "lfu" {
		return object.AccessModeLFU
	}
	return object.AccessModeLRU
}

func initKeyspace() {
	dbIndex = viper.GetInt("db")
	cfg := keyspace.Config{
		NumDatabases: viper.GetInt("numdbs"),
		AccessMode:   accessMode(),
	}
	ks = keyspace.New(cfg, stdoutSink{})
	registry = commands.Registry()
}

func runOne(argv []string) error {
	name := strings.ToUpper(argv[0])
	h, ok := registry[name]
	if !ok {
		return fmt.Errorf("unknown command %q", argv[0])
	}
	db, err := ks.Select(dbIndex)
	if err != nil {
		return err
	}
	hc := &commands.Context{
		KS:         ks,
		DB:         db,
		Prop:       propagation.New(stdoutSink{}, dbIndex),
		RandUint64: rand.Uint64,
	}
	reply := h(hc, argv)
	printReply(reply)
	return nil
}

func printReply(r commands.Reply) {
	switch r.Kind {
	case commands.KindInteger:
		fmt.Println(r.Int)
	case commands.KindBulk:
		fmt.Println(r.Str)
	case commands.KindNullBulk:
		fmt.Println("(nil)")
	case commands.KindSimpleString:
		fmt.Println(r.Str)
	case commands.KindError:
		fmt.Printf("(error) %s %s\n", r.ErrClass, r.Str)
	case commands.KindArray:
		for i, item := range r.Array {
			fmt.Printf("%d) ", i+1)
			printReply(item)
		}
		if len(r.Array) == 0 {
			fmt.Println("(empty array)")
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
