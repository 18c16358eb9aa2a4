// Command simulate runs random concurrent edits on a set of replicas that synchronize through
// the replication protocol, delivering messages out of order, and checks that all replicas
// converge to the same documents.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/sanity-io/litter"
)

var (
	configFile    = flag.String("config", "", "TOML file with simulation parameters")
	replicas      = flag.Int("replicas", 3, "number of replicas")
	docs          = flag.Int("docs", 2, "number of documents")
	steps         = flag.Int("steps", 100, "number of random edits")
	deliverProb   = flag.Float64("deliver_prob", 0.5, "probability of delivering a message between edits")
	seed          = flag.Int64("seed", 1, "seed of the random generator")
	logLevel      = flag.String("log_level", "info", "one of debug, info, warn or error")
	dump          = flag.Bool("dump", false, "whether to dump the final documents")
	debug         = flag.Bool("debug", false, "whether to dump debug information. Default debug file is log_{{datetime}}.jsonl")
	debugFilename = flag.String("debug_file", "", "file to dump debug information in JSONL format. Implies --debug")
)

// -----

type debugMsgType int

const (
	writeDebug debugMsgType = iota
	syncDebug
)

type debugMessage struct {
	msgType debugMsgType
	payload interface{}
}

// -----

func main() {
	flag.Parse()

	conf, err := readConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := initLogger(conf.LogLevel)

	var debugOut io.Writer
	if f := createDebug(logger); f != nil {
		defer f.Close()
		debugOut = f
	}

	sim, err := run(conf, logger, debugOut)
	if err != nil {
		level.Error(logger).Log("msg", "simulation failed", "err", err)
		os.Exit(1)
	}
	if *dump {
		litter.Config.HidePrivateFields = false
		litter.Dump(sim.values())
	}
}

// Reads the config file, if any, and overrides it with the flags set in the command line.
func readConfig() (Config, error) {
	conf := DefaultConfig()
	if *configFile != "" {
		var err error
		if conf, err = LoadConfig(*configFile); err != nil {
			return Config{}, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "replicas":
			conf.Replicas = *replicas
		case "docs":
			conf.Docs = *docs
		case "steps":
			conf.Steps = *steps
		case "deliver_prob":
			conf.DeliverProb = *deliverProb
		case "seed":
			conf.Seed = *seed
		case "log_level":
			conf.LogLevel = *logLevel
		}
	})
	return conf, conf.Validate()
}

func initLogger(loglevel string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	switch strings.ToLower(loglevel) {
	case "debug":
		logger = level.NewFilter(logger, level.AllowDebug())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	return logger
}

// Runs a simulation, writing debug information to debugOut if it's not nil.
func run(conf Config, logger log.Logger, debugOut io.Writer) (*simulation, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	var debugMsgs chan<- debugMessage
	var done <-chan struct{}
	if debugOut != nil {
		debugMsgs, done = runDebug(debugOut, logger)
	}
	level.Info(logger).Log("msg", "starting simulation", "replicas", conf.Replicas, "docs", conf.Docs, "steps", conf.Steps, "seed", conf.Seed)
	sim := newSimulation(conf, logger, debugMsgs)
	err := sim.run()
	if debugMsgs != nil {
		sim.writeDebug(map[string]interface{}{
			"Type":    "final",
			"Values":  sim.values(),
			"Changes": sim.histories(),
		})
		debugMsgs <- debugMessage{msgType: syncDebug}
		close(debugMsgs)
		<-done
	}
	if err != nil {
		return sim, errors.Wrapf(err, "seed %d", conf.Seed)
	}
	return sim, nil
}

// -----

func runDebug(w io.Writer, logger log.Logger) (chan<- debugMessage, <-chan struct{}) {
	ch := make(chan debugMessage, 10)
	done := make(chan struct{})
	go func() {
		defer close(done)
		enc := json.NewEncoder(w)
		for msg := range ch {
			switch msg.msgType {
			case writeDebug:
				if err := enc.Encode(msg.payload); err != nil {
					level.Warn(logger).Log("msg", "error while writing to debug file", "err", err)
				}
			case syncDebug:
				if f, ok := w.(interface{ Sync() error }); ok {
					f.Sync()
				}
			}
		}
	}()
	return ch, done
}

func createDebug(logger log.Logger) *os.File {
	if !*debug && *debugFilename == "" {
		return nil
	}
	if *debugFilename == "" {
		datetime := time.Now().Format("2006-01-02T15:04:05")
		*debugFilename = fmt.Sprintf("log_%s.jsonl", datetime)
	}
	debugFile, err := os.Create(*debugFilename)
	if err != nil {
		level.Warn(logger).Log("msg", "error opening debug file", "err", err)
		return nil
	}
	return debugFile
}
