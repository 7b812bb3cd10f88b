package logging

import (
	"context"
	"github.com/denismitr/voltha/kvstore"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"os"
	"strings"
	"sync"
)

const (
	KVStoreDataPathPrefix = "service/voltha"
	GlobalDefaultLogLevel = "WARN"

	componentNameEnv = "COMPONENT_NAME"
	globalConfigRoot = "global"
	configPath       = "config"
	configType       = "loglevel"
	packageName      = "default"
)

var ErrComponentNameMissing = errors.New("unable to retrieve pod component name from runtime env")

// LogController keeps the process log level in line with the levels
// stored under config/<component>/loglevel/default. The client is expected
// to be scoped to KVStoreDataPathPrefix.
type LogController struct {
	client        kvstore.Client
	level         zap.AtomicLevel
	lg            *zap.Logger
	component     string
	globalPath    string
	componentPath string

	mu          sync.Mutex
	activeLevel string
	cancels     []func()
}

func NewLogController(client kvstore.Client, level zap.AtomicLevel, lg *zap.Logger) (*LogController, error) {
	component := os.Getenv(componentNameEnv)
	if component == "" {
		return nil, ErrComponentNameMissing
	}

	if lg == nil {
		lg = zap.NewNop()
	}

	return &LogController{
		client:        client,
		level:         level,
		lg:            lg.With(zap.String("component", component)),
		component:     component,
		globalPath:    ConfigPath(globalConfigRoot),
		componentPath: ConfigPath(component),
	}, nil
}

// ConfigPath returns the level path of a component relative to the kv prefix
func ConfigPath(component string) string {
	return kvstore.JoinKey(configPath, component, configType, packageName)
}

func (lc *LogController) Start(ctx context.Context, initialDefault string) error {
	lc.lg.Debug("start watching for log config change")

	if err := lc.setDefaultLevels(ctx, strings.ToUpper(initialDefault)); err != nil {
		return err
	}

	lc.process(ctx)

	onChange := func(key string, value []byte, deleted bool) {
		lc.process(context.Background())
	}

	lc.mu.Lock()
	lc.cancels = append(lc.cancels,
		lc.client.Watch(lc.globalPath, onChange),
		lc.client.Watch(lc.componentPath, onChange),
	)
	lc.mu.Unlock()

	return nil
}

func (lc *LogController) Stop() {
	lc.mu.Lock()
	cancels := lc.cancels
	lc.cancels = nil
	lc.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// ActiveLevel is the last level applied, empty before Start
func (lc *LogController) ActiveLevel() string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.activeLevel
}

func (lc *LogController) setDefaultLevels(ctx context.Context, initialDefault string) error {
	if _, err := lc.client.Get(ctx, lc.globalPath); kvstore.IsNotFound(err) {
		if err := lc.client.Set(ctx, lc.globalPath, []byte(GlobalDefaultLogLevel)); err != nil {
			return errors.Wrap(err, "could not set global default log level")
		}
	}

	if _, err := lc.client.Get(ctx, lc.componentPath); kvstore.IsNotFound(err) {
		if err := lc.client.Set(ctx, lc.componentPath, []byte(initialDefault)); err != nil {
			return errors.Wrap(err, "could not set component default log level")
		}
	}

	return nil
}

func (lc *LogController) readLevel(ctx context.Context, path string) string {
	v, err := lc.client.Get(ctx, path)
	if err != nil {
		lc.lg.Warn("failed to retrieve log level", zap.String("path", path), zap.Error(err))
		return ""
	}

	if StringToInt(string(v)) == 0 {
		lc.lg.Warn("unsupported log level", zap.String("path", path), zap.ByteString("level", v))
		return ""
	}

	return strings.ToUpper(string(v))
}

func (lc *LogController) process(ctx context.Context) {
	lc.lg.Debug("processing log config change")

	level := lc.readLevel(ctx, lc.globalPath)
	if componentLevel := lc.readLevel(ctx, lc.componentPath); componentLevel != "" {
		level = componentLevel
	}

	if level == "" {
		level = GlobalDefaultLogLevel
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.activeLevel == level {
		lc.lg.Debug("log level not updated", zap.String("level", level))
		return
	}

	zl, ok := ParseLevel(level)
	if !ok {
		lc.lg.Warn("skipping unsupported log level", zap.String("level", level))
		return
	}

	lc.activeLevel = level
	lc.level.SetLevel(zl)
	lc.lg.Info("applied updated log level", zap.String("level", level))
}
