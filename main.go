package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/go-loom/loom/comm"
	"github.com/go-loom/loom/config"
	"github.com/go-loom/loom/crdt"
	"github.com/go-loom/loom/recon"
	"github.com/go-loom/loom/store"
)

// Functions

// initStore of the correct implementation specified
// in the config to back the reconciliation service.
func initStore(conf *config.Config, env *config.Env) (store.Store, error) {

	switch conf.StoreAdapter {

	case "StorePostgres":
		// Connect to PostgreSQL database.
		return store.NewPostgresStore(
			conf.StorePostgres.Host,
			conf.StorePostgres.Port,
			conf.StorePostgres.Database,
			conf.StorePostgres.User,
			env.PostgresPassword,
			conf.StorePostgres.UseTLS,
		)

	case "StoreMemory":
		return store.NewMemoryStore(), nil

	default: // StoreBolt
		// Open local bbolt file holding the operation log.
		return store.NewBoltStore(conf.StoreBolt.File)
	}
}

// initLogger initializes a JSON gokit-logger set
// to the according log level supplied via cli flag.
func initLogger(loglevel string) log.Logger {

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger,
		"ts", log.DefaultTimestampUTC,
		"caller", log.DefaultCaller,
	)

	switch strings.ToLower(loglevel) {
	case "info":
		logger = level.NewFilter(logger, level.AllowInfo())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowDebug())
	}

	return logger
}

func main() {

	// Set CPUs usable by loom to all available.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Parse command-line flag that defines a config path.
	configFlag := flag.String("config", "config.toml", "Provide path to configuration file in TOML syntax.")
	envFlag := flag.String("env", ".env", "Provide path to the environment file carrying deployment secrets.")
	loglevelFlag := flag.String("loglevel", "debug", "This flag sets the default logging level.")
	flag.Parse()

	logger := initLogger(*loglevelFlag)

	// Read configuration from file.
	conf, err := config.LoadConfig(*configFlag)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to load the config", "err", err,
		)
		os.Exit(1)
	}

	// Read deployment secrets when present. Only the adapters
	// that need them insist on the file existing.
	env := new(config.Env)
	if _, statErr := os.Stat(*envFlag); statErr == nil {

		env, err = config.LoadEnv(*envFlag)
		if err != nil {
			level.Error(logger).Log(
				"msg", "failed to load the .env file", "err", err,
			)
			os.Exit(1)
		}
	}

	str, err := initStore(conf, env)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to initialize the operation log store",
			"err", err,
		)
		os.Exit(2)
	}
	defer str.Close()

	metrics := NewLoomMetrics(conf.PrometheusAddr)

	// Assemble the per-document synchronization service with
	// logging and metrics middleware.
	service := recon.NewService(log.With(logger, "component", "recon"), conf.Name, conf.DocumentID, str)
	service = recon.NewLoggingService(service, log.With(logger, "component", "recon"))
	service = recon.NewMetricsService(service,
		metrics.Recon.Events,
		metrics.Recon.Rejected,
		metrics.Recon.Rounds,
		metrics.Recon.DeltaOps,
	)

	// Replay the persisted operation log into the fresh replica.
	if err := service.Bootstrap(); err != nil {
		level.Error(logger).Log(
			"msg", "failed to bootstrap replica from operation log",
			"err", err,
		)
		os.Exit(3)
	}

	down := make(chan struct{})
	defer close(down)

	// Serve inbound peer sync traffic.
	receiver := comm.InitReceiver(log.With(logger, "component", "receiver"), conf.Name, service)

	syncMux := http.NewServeMux()
	syncMux.Handle("/sync", receiver)

	go func() {

		level.Info(logger).Log(
			"msg", "sync endpoint listening",
			"addr", conf.ListenSyncAddr,
		)

		if err := http.ListenAndServe(conf.ListenSyncAddr, syncMux); err != nil {
			level.Error(logger).Log(
				"msg", "failed to serve sync endpoint",
				"err", err,
			)
			os.Exit(4)
		}
	}()

	// Dial configured peers and keep them reconciled.
	incOps := comm.InitSender(
		log.With(logger, "component", "sender"),
		conf.Name,
		service,
		conf.Peers,
		(time.Duration(conf.SyncIntervalMS) * time.Millisecond),
		down,
	)

	// Optional broker fan-out next to the direct peer mesh.
	var broadcaster *comm.RedisBroadcaster
	if conf.Redis != nil && conf.Redis.Addr != "" {

		broadcaster, err = comm.InitRedisBroadcaster(
			log.With(logger, "component", "redis"),
			conf.Name,
			conf.Redis.Addr,
			env.RedisPassword,
			conf.DocumentID,
			service,
		)
		if err != nil {
			level.Error(logger).Log(
				"msg", "failed to initialize redis broadcaster",
				"err", err,
			)
			os.Exit(5)
		}
		defer broadcaster.Close()

		go broadcaster.Run(down)
	}

	// Minimal local edit surface for the embedding deployment:
	// append text to the document tail and read the projection.
	localMux := http.NewServeMux()

	localMux.HandleFunc("/doc", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, service.VisibleText())
	})

	localMux.HandleFunc("/append", func(w http.ResponseWriter, r *http.Request) {

		if r.Method != http.MethodPost {
			http.Error(w, "use POST", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Append after the current tail of the visible sequence.
		posBefore := crdt.LogicalId{}
		if visible := service.Visible(); len(visible) > 0 {
			posBefore = visible[(len(visible) - 1)].ID
		}

		op, err := service.Insert(posBefore, string(body))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		// Propagate the new operation to all peers.
		incOps <- op
		if broadcaster != nil {

			if err := broadcaster.Publish(op); err != nil {
				level.Warn(logger).Log(
					"msg", "failed to publish operation to redis",
					"err", err,
				)
			}
		}

		fmt.Fprint(w, op.ID.String())
	})

	if conf.ListenEditAddr != "" {

		go func() {

			level.Info(logger).Log(
				"msg", "local edit endpoint listening",
				"addr", conf.ListenEditAddr,
			)

			if err := http.ListenAndServe(conf.ListenEditAddr, localMux); err != nil {
				level.Error(logger).Log(
					"msg", "failed to serve local edit endpoint",
					"err", err,
				)
				os.Exit(6)
			}
		}()
	}

	runPromHTTP(logger, conf.PrometheusAddr)

	// Without a metrics listener blocking above, keep the
	// process alive for its sync and edit endpoints.
	select {}
}
