package run

import (
	"github.com/spf13/cobra"

	"github.com/inkwell-hq/inkwell/cmd/util"
	serverconfig "github.com/inkwell-hq/inkwell/pkg/server/config"
)

// bindRunFlags binds the cobra cmd flags to the equivalent config value being
// managed by viper. This bridges the config between cobra flags and viper
// flags.
func bindRunFlags(command *cobra.Command) {
	defaultConfig := serverconfig.DefaultConfig()
	flags := command.Flags()

	flags.String("datastore-engine", defaultConfig.Datastore.Engine, "the datastore engine that will be used for persistence")
	util.MustBindPFlag("datastore.engine", flags.Lookup("datastore-engine"))
	util.MustBindEnv("datastore.engine", "INKWELL_DATASTORE_ENGINE")

	flags.String("datastore-uri", defaultConfig.Datastore.URI, "the connection uri to use to connect to the datastore (for any engine other than 'memory')")
	util.MustBindPFlag("datastore.uri", flags.Lookup("datastore-uri"))
	util.MustBindEnv("datastore.uri", "INKWELL_DATASTORE_URI")

	flags.String("datastore-username", "", "the connection username to connect to the datastore (overwrites any username provided in the connection uri)")
	util.MustBindPFlag("datastore.username", flags.Lookup("datastore-username"))
	util.MustBindEnv("datastore.username", "INKWELL_DATASTORE_USERNAME")

	flags.String("datastore-password", "", "the connection password to connect to the datastore (overwrites any password provided in the connection uri)")
	util.MustBindPFlag("datastore.password", flags.Lookup("datastore-password"))
	util.MustBindEnv("datastore.password", "INKWELL_DATASTORE_PASSWORD")

	flags.Int("datastore-max-open-conns", defaultConfig.Datastore.MaxOpenConns, "the maximum number of open connections to the datastore")
	util.MustBindPFlag("datastore.maxOpenConns", flags.Lookup("datastore-max-open-conns"))
	util.MustBindEnv("datastore.maxOpenConns", "INKWELL_DATASTORE_MAX_OPEN_CONNS", "INKWELL_DATASTORE_MAXOPENCONNS")

	flags.Int("datastore-max-idle-conns", defaultConfig.Datastore.MaxIdleConns, "the maximum number of connections to the datastore in the idle connection pool")
	util.MustBindPFlag("datastore.maxIdleConns", flags.Lookup("datastore-max-idle-conns"))
	util.MustBindEnv("datastore.maxIdleConns", "INKWELL_DATASTORE_MAX_IDLE_CONNS", "INKWELL_DATASTORE_MAXIDLECONNS")

	flags.Duration("datastore-conn-max-idle-time", defaultConfig.Datastore.ConnMaxIdleTime, "the maximum amount of time a connection to the datastore may be idle")
	util.MustBindPFlag("datastore.connMaxIdleTime", flags.Lookup("datastore-conn-max-idle-time"))
	util.MustBindEnv("datastore.connMaxIdleTime", "INKWELL_DATASTORE_CONN_MAX_IDLE_TIME", "INKWELL_DATASTORE_CONNMAXIDLETIME")

	flags.Duration("datastore-conn-max-lifetime", defaultConfig.Datastore.ConnMaxLifetime, "the maximum amount of time a connection to the datastore may be reused")
	util.MustBindPFlag("datastore.connMaxLifetime", flags.Lookup("datastore-conn-max-lifetime"))
	util.MustBindEnv("datastore.connMaxLifetime", "INKWELL_DATASTORE_CONN_MAX_LIFETIME", "INKWELL_DATASTORE_CONNMAXLIFETIME")

	flags.Bool("datastore-metrics-enabled", defaultConfig.Datastore.Metrics.Enabled, "enable/disable sql metrics for the datastore")
	util.MustBindPFlag("datastore.metrics.enabled", flags.Lookup("datastore-metrics-enabled"))
	util.MustBindEnv("datastore.metrics.enabled", "INKWELL_DATASTORE_METRICS_ENABLED")

	flags.Bool("http-enabled", defaultConfig.HTTP.Enabled, "enable/disable the operational HTTP endpoint serving health and metrics")
	util.MustBindPFlag("http.enabled", flags.Lookup("http-enabled"))
	util.MustBindEnv("http.enabled", "INKWELL_HTTP_ENABLED")

	flags.String("http-addr", defaultConfig.HTTP.Addr, "the host:port address to serve the HTTP endpoint on")
	util.MustBindPFlag("http.addr", flags.Lookup("http-addr"))
	util.MustBindEnv("http.addr", "INKWELL_HTTP_ADDR")

	flags.StringSlice("http-cors-allowed-origins", defaultConfig.HTTP.CORSAllowedOrigins, "specifies the CORS allowed origins")
	util.MustBindPFlag("http.corsAllowedOrigins", flags.Lookup("http-cors-allowed-origins"))
	util.MustBindEnv("http.corsAllowedOrigins", "INKWELL_HTTP_CORS_ALLOWED_ORIGINS", "INKWELL_HTTP_CORSALLOWEDORIGINS")

	flags.StringSlice("http-cors-allowed-headers", defaultConfig.HTTP.CORSAllowedHeaders, "specifies the CORS allowed headers")
	util.MustBindPFlag("http.corsAllowedHeaders", flags.Lookup("http-cors-allowed-headers"))
	util.MustBindEnv("http.corsAllowedHeaders", "INKWELL_HTTP_CORS_ALLOWED_HEADERS", "INKWELL_HTTP_CORSALLOWEDHEADERS")

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in")
	util.MustBindPFlag("log.format", flags.Lookup("log-format"))
	util.MustBindEnv("log.format", "INKWELL_LOG_FORMAT")

	flags.String("log-level", defaultConfig.Log.Level, "the log level to use")
	util.MustBindPFlag("log.level", flags.Lookup("log-level"))
	util.MustBindEnv("log.level", "INKWELL_LOG_LEVEL")

	flags.Int64("cache-size", defaultConfig.CacheSize, "the maximum number of effective-access lists the cache can store before evicting old keys (0 disables the cache)")
	util.MustBindPFlag("cacheSize", flags.Lookup("cache-size"))
	util.MustBindEnv("cacheSize", "INKWELL_CACHE_SIZE", "INKWELL_CACHESIZE")

	flags.Int("event-workers", defaultConfig.EventWorkers, "the maximum number of concurrent post-commit event deliveries")
	util.MustBindPFlag("eventWorkers", flags.Lookup("event-workers"))
	util.MustBindEnv("eventWorkers", "INKWELL_EVENT_WORKERS", "INKWELL_EVENTWORKERS")

	// NOTE: if you add a new flag here, add the binding next to it
}
