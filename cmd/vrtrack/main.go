package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/vrtrack/internal/config"
	"github.com/banshee-data/vrtrack/internal/driver"
	"github.com/banshee-data/vrtrack/internal/hardware"
	"github.com/banshee-data/vrtrack/internal/monitor"
	"github.com/banshee-data/vrtrack/internal/monitoring"
	"github.com/banshee-data/vrtrack/internal/publish"
	"github.com/banshee-data/vrtrack/internal/sensor"
	"github.com/banshee-data/vrtrack/internal/settings"
	"github.com/banshee-data/vrtrack/internal/timeutil"
	"github.com/banshee-data/vrtrack/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to tuning JSON (defaults built in)")
	settingsDB  = flag.String("settings-db", "vrtrack_settings.db", "SQLite settings database path (empty for in-memory)")
	redisAddr   = flag.String("redis", "", "Redis address for shared settings (overrides -settings-db)")
	serialPort  = flag.String("serial", "", "Controller bridge serial port, e.g. /dev/ttyACM0")
	baudRate    = flag.Int("baud", hardware.DefaultBaudRate, "Controller bridge baud rate")
	udpAddr     = flag.String("udp", "", "Listen address for binary pose packets, e.g. :9870")
	pcapFile    = flag.String("pcap", "", "Replay pose packets from a PCAP file instead of -udp")
	pcapPort    = flag.Int("pcap-port", 9870, "UDP destination port to replay from -pcap")
	mqttBroker  = flag.String("mqtt", "", "MQTT broker for JSON pose samples, e.g. tcp://localhost:1883")
	mqttPrefix  = flag.String("mqtt-prefix", sensor.DefaultTopicPrefix, "MQTT topic prefix")
	grpcAddr    = flag.String("grpc", "", "gRPC frame stream listen address, e.g. :9871")
	listen      = flag.String("listen", "127.0.0.1:8080", "HTTP status and debug listen address")
	devicesFlag = flag.String("devices", "", "Devices to register: serial=kind,... (kind: hmd, controller/left, tracker, ...)")
	devMode     = flag.Bool("dev", false, "Run with a synthetic headset and controllers")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("vrtrack", version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	devices, err := parseDevices(*devicesFlag)
	if err != nil {
		log.Fatalf("invalid -devices: %v", err)
	}
	if *devMode && len(devices) == 0 {
		devices = devDevices()
	}

	tuning := config.DefaultTuningConfig()
	if *configPath != "" {
		if tuning, err = config.LoadTuningConfig(*configPath); err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	store, sqliteStore, err := openStore()
	if err != nil {
		log.Fatalf("failed to open settings store: %v", err)
	}
	defer store.Close()

	publisher := publish.NewPublisher(publish.DefaultConfig())
	if err := publisher.Start(); err != nil {
		log.Fatalf("failed to start publisher: %v", err)
	}
	defer publisher.Stop()

	var bridge controlBridge
	switch {
	case *serialPort != "":
		b, err := hardware.OpenSerialBridge(*serialPort, hardware.PortOptions{BaudRate: *baudRate})
		if err != nil {
			log.Fatalf("failed to open controller bridge: %v", err)
		}
		bridge = b
	case *devMode:
		bridge = newDevBridge()
	}

	cfg := driver.Config{Store: store, Tuning: tuning, Host: publisher}
	if bridge != nil {
		cfg.Haptics = bridge
	}
	engine, err := driver.Initialize(cfg)
	if err != nil {
		log.Fatalf("engine initialization failed (%s): %v", driver.InitResultFromError(err), err)
	}

	for _, d := range devices {
		h, err := engine.RegisterDevice(d.serial, d.kind)
		if err != nil {
			log.Fatalf("failed to register %s: %v", d.serial, err)
		}
		monitoring.Logf("[Main] registered %s (%s) as handle %d", d.serial, d.kind, h)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if bridge != nil {
		throttle := monitoring.NewThrottle(5 * time.Second)
		bridge.SetControlHandler(func(ev hardware.ControlEvent) {
			if err := engine.HandleHardwareEvent(ev); err != nil {
				throttle.Logf(time.Now(), "[Main] dropping bridge event: %v", err)
			}
		})
		if err := bridge.Initialize(); err != nil {
			log.Fatalf("failed to initialize controller bridge: %v", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bridge.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("controller bridge monitor error: %v", err)
			}
			log.Print("bridge monitor routine terminated")
		}()
	}

	// Sensor inputs
	if *udpAddr != "" && *pcapFile == "" {
		listener := sensor.NewUDPListener(sensor.UDPListenerConfig{Address: *udpAddr, RcvBuf: 1 << 20, Sink: engine.Engine()})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("UDP pose listener error: %v", err)
			}
		}()
	}
	if *pcapFile != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := sensor.ReplayPCAP(ctx, *pcapFile, sensor.ReplayOptions{Port: *pcapPort, Realtime: true}, engine.Engine())
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("PCAP replay error: %v", err)
			}
			if stats != nil {
				stats.LogStats("pcap")
			}
		}()
	}
	if *mqttBroker != "" {
		sub := sensor.NewMQTTSubscriber(sensor.MQTTConfig{Broker: *mqttBroker, TopicPrefix: *mqttPrefix}, engine.Engine())
		if err := sub.Connect(); err != nil {
			log.Fatalf("failed to connect to MQTT broker: %v", err)
		}
		defer sub.Close()
	}
	if *devMode {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runSynthetic(ctx, engine, bridge)
		}()
	}

	// Frame consumers
	if *grpcAddr != "" {
		srv := publish.NewServer(publisher)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(*grpcAddr); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Stop()
		}()
	}

	ws := monitor.NewWebServer(monitor.Config{Address: *listen, Engine: engine.Engine(), Frames: publisher})
	if sqliteStore != nil {
		if err := sqliteStore.AttachAdminRoutes(ws.Mux()); err != nil {
			log.Printf("failed to attach settings admin routes: %v", err)
		}
	}
	if bridge != nil {
		bridge.AttachAdminRoutes(ws.Mux())
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Start(ctx); err != nil {
			log.Printf("HTTP server error: %v", err)
			stop()
		}
	}()

	// Stand-in for the host runtime: one frame per refresh interval.
	runFrames(ctx, engine)

	if err := engine.Shutdown(); err != nil {
		log.Printf("engine shutdown error: %v", err)
	}
	if bridge != nil {
		bridge.Close()
	}
	wg.Wait()
	log.Print("vrtrack stopped")
}

// openStore picks the settings backend from flags. The second return value
// is set when the backend is SQLite so its admin routes can be mounted.
func openStore() (settings.Store, *settings.SQLiteStore, error) {
	switch {
	case *redisAddr != "":
		s, err := settings.OpenRedisStore(settings.RedisConfig{Addr: *redisAddr})
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case *settingsDB != "":
		s, err := settings.OpenSQLiteStore(*settingsDB)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return settings.NewMemoryStore(), nil, nil
	}
}

func runFrames(ctx context.Context, engine *driver.Context) {
	interval := timeutil.FrameInterval(engine.Engine().Settings().RefreshRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	monitoring.Logf("[Main] running frames every %v", interval)

	throttle := monitoring.NewThrottle(5 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := engine.RunFrame(); err != nil {
				throttle.Logf(time.Now(), "[Main] frame error: %v", err)
			}
		}
	}
}

func init() {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}
