package supervisor

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/chainhook/pipeline/pkg/chainsubscriber"
	"github.com/chainhook/pipeline/pkg/config"
	"github.com/chainhook/pipeline/pkg/configcache"
	"github.com/chainhook/pipeline/pkg/deadletter"
	"github.com/chainhook/pipeline/pkg/dedup"
	"github.com/chainhook/pipeline/pkg/delivery"
	"github.com/chainhook/pipeline/pkg/events"
	"github.com/chainhook/pipeline/pkg/health"
	"github.com/chainhook/pipeline/pkg/log"
	"github.com/chainhook/pipeline/pkg/matcher"
	"github.com/chainhook/pipeline/pkg/metrics"
	"github.com/chainhook/pipeline/pkg/persister"
	"github.com/chainhook/pipeline/pkg/types"
	"github.com/redis/go-redis/v9"
)

// healthMonitorInterval is the self-latency wake interval (spec-mandated).
// It does not read Config.HealthCheckInterval, and neither do the Redis and
// columnar-store dependency monitors, which use health.DefaultConfig.
const healthMonitorInterval = 10 * time.Second

// lateWakeFactor is how far past the interval a wake-up must land to count
// as "late" for the purposes of the starvation check.
const lateWakeFactor = 1.5

// consecutiveLateWakesForAlert is how many consecutive late wakes trigger
// the critical log. The spec leaves N unspecified; 3 was chosen so a single
// scheduling hiccup under load doesn't page anyone, but a sustained stall
// does.
const consecutiveLateWakesForAlert = 3

// Supervisor owns construction and lifecycle of every pipeline stage: the
// chain subscribers, the dedup+matcher fan-out, the batch persister, and
// the delivery pool. It is the single place that knows how the stages'
// channels connect.
type Supervisor struct {
	cfg    config.Config
	chains []types.ChainConfig

	dedup     *dedup.Deduplicator
	cache     *configcache.Cache
	matcher   *matcher.Matcher
	persister *persister.Persister
	delivery  *delivery.Pool
	broker    *events.Broker
	collector *metrics.Collector

	subscribers []*chainsubscriber.Subscriber
	depMonitor  *health.Monitor

	ingestCh     chan types.CanonicalEvent
	deliveryCh   chan types.DeliveryJob
	persisterSub events.Subscriber
	matcherSub   events.Subscriber
}

// New wires every stage together from already-connected infrastructure
// clients (Redis, the Postgres-backed config store, the dead-letter store)
// plus the resolved process configuration and static chain list. No
// goroutine is started until Run is called.
func New(cfg config.Config, chains []types.ChainConfig, redisClient *redis.Client, cacheStore *configcache.Store, dlq *deadletter.Store, audit delivery.AuditFunc) *Supervisor {
	ingestCh := make(chan types.CanonicalEvent, cfg.EventChannelSize)
	deliveryCh := make(chan types.DeliveryJob, cfg.DeliveryChannelSize)

	dd := dedup.New(redisClient, dedup.Config{
		TTL:     cfg.DedupTTL,
		LRUSize: cfg.DedupLRUSize,
	})

	cache := configcache.NewCache(cacheStore, cfg.ConfigRefreshInterval)
	m := matcher.New(cache)

	broker := events.NewBroker(cfg.EventChannelSize)
	persisterSub := broker.Subscribe(cfg.EventChannelSize)
	matcherSub := broker.Subscribe(cfg.EventChannelSize)

	pst := persister.New(persisterSub, persister.Config{
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchFlushInterval,
		InsertURL:    cfg.ColumnarStoreURL,
	}, dlq)

	pool := delivery.New(deliveryCh, delivery.Config{
		WorkerCount:  cfg.WorkerPoolSize,
		RetryBase:    cfg.RetryBaseDelay,
		RetryMaxWait: cfg.RetryMaxDelay,
		Breaker: delivery.BreakerConfig{
			FailThreshold: cfg.BreakerFailThreshold,
			Cooldown:      cfg.BreakerCooldown,
		},
		Timeout: cfg.DefaultTimeout,
	}, audit, dlq)

	subscribers := make([]*chainsubscriber.Subscriber, 0, len(chains))
	for _, c := range chains {
		subscribers = append(subscribers, chainsubscriber.New(c, ingestCh))
	}

	collector := metrics.NewCollector(metrics.Sources{
		DeliveryQueueLen: func() int { return len(deliveryCh) },
		ConfigCacheSize:  cache.Size,
		DedupLRULen:      dd.LRULen,
	})

	depMonitor := health.NewMonitor([]health.Dependency{
		{
			Name:    "redis",
			Checker: health.NewTCPChecker(cfg.RedisAddr),
			Config:  health.DefaultConfig(),
		},
		{
			Name:    "columnar_store",
			Checker: health.NewHTTPChecker(cfg.ColumnarStoreURL).WithMethod("HEAD"),
			Config:  health.DefaultConfig(),
		},
	})
	depMonitor.OnChange = func(name string, status health.Status) {
		msg := status.LastResult.Message
		metrics.RegisterComponent(name, status.Healthy, msg)
	}

	return &Supervisor{
		cfg:          cfg,
		chains:       chains,
		dedup:        dd,
		cache:        cache,
		matcher:      m,
		persister:    pst,
		delivery:     pool,
		broker:       broker,
		collector:    collector,
		subscribers:  subscribers,
		depMonitor:   depMonitor,
		ingestCh:     ingestCh,
		deliveryCh:   deliveryCh,
		persisterSub: persisterSub,
		matcherSub:   matcherSub,
	}
}

// Run starts every stage and blocks until ctx is canceled, then drains
// with a bounded grace period before returning. A subscriber reaching its
// fatal state (reconnect budget exhausted) is logged and its chain stops;
// the other chains keep running. Once every subscriber has reached its
// fatal state the supervisor shuts down and Run returns the last of those
// errors.
func (s *Supervisor) Run(ctx context.Context) error {
	logger := log.WithComponent("supervisor")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.cache.Start(runCtx)
	defer s.cache.Stop()

	s.broker.Start()
	defer s.broker.Stop()

	s.collector.Start()
	defer s.collector.Stop()

	s.depMonitor.Start(runCtx)
	defer s.depMonitor.Stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.dedupStage(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.matchStage(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.persister.Run(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.delivery.Run(runCtx)
	}()

	subErrCh := make(chan error, len(s.subscribers))
	for _, sub := range s.subscribers {
		wg.Add(1)
		go func(sub *chainsubscriber.Subscriber) {
			defer wg.Done()
			if err := sub.Run(runCtx); err != nil {
				subErrCh <- err
			}
		}(sub)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.healthMonitor(runCtx)
	}()

	var fatal error
	failed := 0
wait:
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutdown signal received, draining pipeline")
			break wait
		case err := <-subErrCh:
			failed++
			logger.Error().Err(err).Msg("chain subscriber reached a fatal state")
			if failed == len(s.subscribers) {
				fatal = err
				logger.Error().Msg("all chain subscribers reached a fatal state, shutting down")
				break wait
			}
		}
	}

	cancel()

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		logger.Info().Msg("all stages drained cleanly")
	case <-time.After(s.cfg.ShutdownGracePeriod):
		logger.Warn().Dur("grace_period", s.cfg.ShutdownGracePeriod).Msg("shutdown grace period exceeded, forcing exit")
	}

	return fatal
}

func chainLabel(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}

// dedupStage reads raw events off the subscriber fan-in channel and tees
// first-seen events into the broker; replays are dropped here before they
// ever reach the matcher or the persister.
func (s *Supervisor) dedupStage(ctx context.Context) {
	logger := log.WithComponent("dedup-stage")
	for {
		select {
		case event, ok := <-s.ingestCh:
			if !ok {
				return
			}
			fresh, err := s.dedup.CheckAndMark(ctx, event.ID())
			if err != nil {
				logger.Error().Err(err).Str("event_id", event.ID()).Msg("dedup check failed")
				continue
			}
			if !fresh {
				metrics.DuplicatesDroppedTotal.WithLabelValues(chainLabel(event.ChainID)).Inc()
				continue
			}
			s.broker.Publish(event)
		case <-ctx.Done():
			return
		}
	}
}

// matchStage reads fresh events from its broker subscription and turns
// each into zero or more delivery jobs, pushing them onto the bounded
// delivery channel. The send to deliveryCh blocks on a full channel and on
// ctx.Done, which is the pipeline's back-pressure path from the delivery
// stage all the way back up to the subscribers.
func (s *Supervisor) matchStage(ctx context.Context) {
	for {
		select {
		case event, ok := <-s.matcherSub:
			if !ok {
				return
			}
			jobs := s.matcher.Match(event)
			for _, job := range jobs {
				select {
				case s.deliveryCh <- job:
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// healthMonitor wakes on a fixed interval and logs a critical condition if
// its own wake-up latency is consistently late, which is the symptom of a
// starved Go scheduler (e.g. a goroutine leak or GC thrash) rather than any
// single stage's fault. It never alters pipeline behavior.
func (s *Supervisor) healthMonitor(ctx context.Context) {
	logger := log.WithComponent("health-monitor")
	ticker := time.NewTicker(healthMonitorInterval)
	defer ticker.Stop()

	last := time.Now()
	lateStreak := 0

	for {
		select {
		case tick := <-ticker.C:
			elapsed := tick.Sub(last)
			last = tick
			if elapsed > time.Duration(float64(healthMonitorInterval)*lateWakeFactor) {
				lateStreak++
				if lateStreak >= consecutiveLateWakesForAlert {
					logger.Error().
						Dur("wake_latency", elapsed).
						Int("consecutive_late_wakes", lateStreak).
						Msg("runtime starvation detected: health monitor wake-up is consistently late")
				}
			} else {
				lateStreak = 0
			}
		case <-ctx.Done():
			return
		}
	}
}
