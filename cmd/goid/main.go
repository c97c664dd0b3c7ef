package main

import (
	"context"
	"flag"
	"time"

	"github.com/promptlab/promptlab/goi/agent"
	"github.com/promptlab/promptlab/goi/checkpoint"
	"github.com/promptlab/promptlab/goi/control"
	"github.com/promptlab/promptlab/goi/db"
	"github.com/promptlab/promptlab/goi/pubsub"
	"github.com/promptlab/promptlab/goi/service"
	"github.com/promptlab/promptlab/goi/syncstate"
	"github.com/promptlab/promptlab/goi/todo"
	"github.com/promptlab/promptlab/pkg/cfg"
	"github.com/promptlab/promptlab/pkg/hertzx"
	"github.com/promptlab/promptlab/pkg/logs"
	"github.com/promptlab/promptlab/pkg/ormx"
	"github.com/promptlab/promptlab/pkg/redisx"
	"github.com/promptlab/promptlab/pkg/schedule"
)

type GoiConfig struct {
	// MaxRetries is a pointer so a deployment can set 0 (never retry)
	// without it reading as "unset".
	MaxRetries      *int   `json:"maxRetries" mapstructure:"max-retries"`
	StepDelayMs     int    `json:"stepDelayMs" mapstructure:"step-delay-ms"`
	ExpiryAction    string `json:"expiryAction" mapstructure:"expiry-action"`
	SweepSeconds    int    `json:"sweepSeconds" mapstructure:"sweep-seconds"`
	SessionTTLHours int    `json:"sessionTtlHours" mapstructure:"session-ttl-hours"`
}

type AppConfig struct {
	Web       hertzx.WebConfig    `json:"web" mapstructure:"web"`
	Log       logs.LogConfig      `json:"log" mapstructure:"log"`
	DB        *ormx.DBConfig      `json:"db" mapstructure:"db"`
	Redis     *redisx.RedisConfig `json:"redis" mapstructure:"redis"`
	JwtSecret string              `json:"jwtSecret" mapstructure:"jwt-secret"`
	Goi       GoiConfig           `json:"goi" mapstructure:"goi"`
}

func (c *AppConfig) Prepare() {
	c.Web.Prepare()
	c.Log.Prepare()
	if c.Goi.MaxRetries == nil || *c.Goi.MaxRetries < 0 {
		defaultRetries := 2
		c.Goi.MaxRetries = &defaultRetries
	}
	if c.Goi.StepDelayMs <= 0 {
		c.Goi.StepDelayMs = 50
	}
	if c.Goi.SweepSeconds <= 0 {
		c.Goi.SweepSeconds = 5
	}
	if c.Goi.SessionTTLHours <= 0 {
		c.Goi.SessionTTLHours = 24
	}
	if c.Goi.ExpiryAction == "" {
		c.Goi.ExpiryAction = string(checkpoint.ExpiryReject)
	}
}

func main() {
	configDir := flag.String("conf", "./conf", "config directory")
	configFile := flag.String("conf-file", "app", "config file name without suffix")
	flag.Parse()

	var conf AppConfig
	if err := cfg.LoadConfig(*configDir, *configFile, "yaml", &conf); err != nil {
		logs.Fatalf("load config: %v", err)
		return
	}
	conf.Prepare()
	if err := logs.InitLogger(conf.Log, "goid.log"); err != nil {
		logs.Fatalf("init logger: %v", err)
		return
	}

	var querier db.Querier
	if conf.DB != nil {
		gormDB, err := ormx.NewDBClient(*conf.DB)
		if err != nil {
			logs.Fatalf("connect database: %v", err)
			return
		}
		querier = db.New(gormDB)
	}

	var rds redisx.Redis
	if conf.Redis != nil {
		var err error
		rds, err = redisx.NewRedis(*conf.Redis)
		if err != nil {
			logs.Fatalf("connect redis: %v", err)
			return
		}
	}

	hub := pubsub.NewHub()
	var store todo.Store
	if querier != nil {
		store = todo.NewDBStore(querier)
	} else {
		store = todo.NewMemoryStore()
	}
	cps := checkpoint.NewController(hub, querier, checkpoint.ExpiryAction(conf.Goi.ExpiryAction))
	ctl := control.NewManager(hub, querier)
	syncMgr := syncstate.NewManager(hub, querier)

	sessions := agent.NewSessionManager(agent.ManagerOptions{
		Store:       store,
		Checkpoints: cps,
		Control:     ctl,
		Hub:         hub,
		Executor:    defaultExecutor(),
		Redis:       rds,
	})

	scheduler := schedule.NewScheduler()
	scheduler.AddFixDelayTask(time.Duration(conf.Goi.SweepSeconds)*time.Second, func() {
		if n := cps.SweepExpired(context.Background()); n > 0 {
			logs.Infof("expired %d overdue checkpoints", n)
		}
	})
	scheduler.AddFixDelayTask(time.Hour, func() {
		if n := sessions.ReapTerminal(time.Duration(conf.Goi.SessionTTLHours) * time.Hour); n > 0 {
			logs.Infof("reaped %d finished sessions", n)
		}
	})

	loopDefaults := agent.Config{
		MaxRetries:   *conf.Goi.MaxRetries,
		StepDelay:    time.Duration(conf.Goi.StepDelayMs) * time.Millisecond,
		ExpiryAction: checkpoint.ExpiryAction(conf.Goi.ExpiryAction),
	}

	h := hertzx.WebEngine(conf.Web)
	svc := service.NewService(sessions, store, cps, ctl, syncMgr, hub, loopDefaults)
	svc.RegisterRoutes(h, conf.JwtSecret)

	h.OnShutdown = append(h.OnShutdown, func(ctx context.Context) {
		scheduler.Stop()
		if err := sessions.Shutdown(ctx); err != nil {
			logs.Warnf("session shutdown: %v", err)
		}
		hub.Shutdown()
	})

	logs.Infof("goid listening on %s:%d", conf.Web.Host, conf.Web.Port)
	h.Spin()
}
