package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	SinkGATT  = "gatt"
	SinkBlueZ = "bluez"
	SinkMQTT  = "mqtt"
	SinkCloud = "cloud"
)

const (
	SensorDriverBMXX80 = "bmxx80"
	SensorDriverSim    = "sim"
)

const (
	MinSensorPollInterval = time.Second
	MaxSensorPollInterval = 5 * time.Second
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	// HTTPAddr is empty when the HTTP surface is disabled (HTTP_ADDR=off).
	HTTPAddr string

	Board              string
	SensorDriver       string
	BME280Address      uint16
	SensorPollInterval time.Duration

	Sinks []string

	BLEDeviceName string
	BLEHCIDevice  int
	BLEAdapter    string
	BLEPressure   bool

	MQTTBroker     string
	MQTTPort       int
	MQTTClientID   string
	MQTTUsername   string
	MQTTPassword   string
	MQTTBufferSize int

	Driver          string
	DSN             string
	Path            string
	LogSQL          bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	CloudSyncMaxAttempts int
	CloudSyncRetryDelay  time.Duration
}

// HasSink reports whether sink was selected in SINKS.
func (c Config) HasSink(sink string) bool {
	for _, s := range c.Sinks {
		if s == sink {
			return true
		}
	}
	return false
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	switch httpAddr {
	case "":
		httpAddr = ":8080"
	case "off":
		httpAddr = ""
	}

	boardID := strings.TrimSpace(os.Getenv("BOARD"))
	if boardID == "" {
		boardID = "rpi3"
	}

	sensorDriver := strings.ToLower(strings.TrimSpace(os.Getenv("SENSOR_DRIVER")))
	if sensorDriver == "" {
		sensorDriver = SensorDriverBMXX80
	}
	switch sensorDriver {
	case SensorDriverBMXX80, SensorDriverSim:
	default:
		return Config{}, fmt.Errorf("invalid SENSOR_DRIVER %q (allowed: bmxx80, sim)", sensorDriver)
	}

	bme280AddressStr := strings.TrimSpace(os.Getenv("BME280_ADDRESS"))
	if bme280AddressStr == "" {
		bme280AddressStr = "0x76"
	}
	bme280Address, err := strconv.ParseUint(bme280AddressStr, 0, 16)
	if err != nil {
		return Config{}, fmt.Errorf("invalid BME280_ADDRESS %q: %w", bme280AddressStr, err)
	}

	sensorPollIntervalStr := strings.TrimSpace(os.Getenv("SENSOR_POLL_INTERVAL"))
	if sensorPollIntervalStr == "" {
		sensorPollIntervalStr = "5s"
	}
	sensorPollInterval, err := time.ParseDuration(sensorPollIntervalStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SENSOR_POLL_INTERVAL %q: %w", sensorPollIntervalStr, err)
	}
	if sensorPollInterval < MinSensorPollInterval || sensorPollInterval > MaxSensorPollInterval {
		return Config{}, fmt.Errorf("SENSOR_POLL_INTERVAL must be within %v..%v, got %v",
			MinSensorPollInterval, MaxSensorPollInterval, sensorPollInterval)
	}

	sinks, err := parseSinks(os.Getenv("SINKS"))
	if err != nil {
		return Config{}, err
	}

	bleDeviceName := strings.TrimSpace(os.Getenv("BLE_DEVICE_NAME"))
	if bleDeviceName == "" {
		bleDeviceName = "cloudpico-bridge"
	}

	bleHCIDeviceStr := strings.TrimSpace(os.Getenv("BLE_HCI_DEVICE"))
	if bleHCIDeviceStr == "" {
		bleHCIDeviceStr = "-1"
	}
	bleHCIDevice, err := strconv.Atoi(bleHCIDeviceStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid BLE_HCI_DEVICE %q: %w", bleHCIDeviceStr, err)
	}

	bleAdapter := strings.TrimSpace(os.Getenv("BLE_ADAPTER"))
	if bleAdapter == "" {
		bleAdapter = "hci0"
	}

	blePressureStr := strings.TrimSpace(os.Getenv("BLE_PRESSURE"))
	if blePressureStr == "" {
		blePressureStr = "true"
	}
	blePressure, err := strconv.ParseBool(blePressureStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid BLE_PRESSURE %q: %w", blePressureStr, err)
	}

	mqttBroker := strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	if mqttBroker == "" {
		mqttBroker = "localhost"
	}

	mqttPortStr := strings.TrimSpace(os.Getenv("MQTT_PORT"))
	if mqttPortStr == "" {
		mqttPortStr = "1883"
	}
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}

	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "cloudpico-bridge"
	}

	mqttBufferSizeStr := strings.TrimSpace(os.Getenv("MQTT_BUFFER_SIZE"))
	if mqttBufferSizeStr == "" {
		mqttBufferSizeStr = "100"
	}
	mqttBufferSize, err := strconv.Atoi(mqttBufferSizeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_BUFFER_SIZE %q: %w", mqttBufferSizeStr, err)
	}
	if mqttBufferSize < 0 {
		return Config{}, fmt.Errorf("MQTT_BUFFER_SIZE must not be negative, got %d", mqttBufferSize)
	}

	driver := strings.TrimSpace(os.Getenv("DB_DRIVER"))
	if driver == "" {
		driver = "sqlite3"
	}
	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))
	path := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	if path == "" {
		path = "data/bridge.db"
	}

	logSQLStr := strings.TrimSpace(os.Getenv("DB_LOG_SQL"))
	if logSQLStr == "" {
		logSQLStr = "false"
	}
	logSQL, err := strconv.ParseBool(logSQLStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_LOG_SQL %q: %w", logSQLStr, err)
	}

	maxOpenConnsStr := strings.TrimSpace(os.Getenv("DB_MAX_OPEN_CONNS"))
	if maxOpenConnsStr == "" {
		maxOpenConnsStr = "1"
	}
	maxOpenConns, err := strconv.Atoi(maxOpenConnsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_OPEN_CONNS %q: %w", maxOpenConnsStr, err)
	}

	maxIdleConnsStr := strings.TrimSpace(os.Getenv("DB_MAX_IDLE_CONNS"))
	if maxIdleConnsStr == "" {
		maxIdleConnsStr = "1"
	}
	maxIdleConns, err := strconv.Atoi(maxIdleConnsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_IDLE_CONNS %q: %w", maxIdleConnsStr, err)
	}

	connMaxLifetimeStr := strings.TrimSpace(os.Getenv("DB_CONN_MAX_LIFETIME"))
	if connMaxLifetimeStr == "" {
		connMaxLifetimeStr = "0s"
	}
	connMaxLifetime, err := time.ParseDuration(connMaxLifetimeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME %q: %w", connMaxLifetimeStr, err)
	}

	maxAttemptsStr := strings.TrimSpace(os.Getenv("CLOUD_SYNC_MAX_ATTEMPTS"))
	if maxAttemptsStr == "" {
		maxAttemptsStr = "5"
	}
	maxAttempts, err := strconv.Atoi(maxAttemptsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid CLOUD_SYNC_MAX_ATTEMPTS %q: %w", maxAttemptsStr, err)
	}
	if maxAttempts < 1 {
		return Config{}, fmt.Errorf("CLOUD_SYNC_MAX_ATTEMPTS must be at least 1, got %d", maxAttempts)
	}

	retryDelayStr := strings.TrimSpace(os.Getenv("CLOUD_SYNC_RETRY_DELAY"))
	if retryDelayStr == "" {
		retryDelayStr = "2s"
	}
	retryDelay, err := time.ParseDuration(retryDelayStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid CLOUD_SYNC_RETRY_DELAY %q: %w", retryDelayStr, err)
	}

	cfg := Config{
		AppEnv:               appEnv,
		LogLevel:             level,
		HTTPAddr:             httpAddr,
		Board:                boardID,
		SensorDriver:         sensorDriver,
		BME280Address:        uint16(bme280Address),
		SensorPollInterval:   sensorPollInterval,
		Sinks:                sinks,
		BLEDeviceName:        bleDeviceName,
		BLEHCIDevice:         bleHCIDevice,
		BLEAdapter:           bleAdapter,
		BLEPressure:          blePressure,
		MQTTBroker:           mqttBroker,
		MQTTPort:             mqttPort,
		MQTTClientID:         mqttClientID,
		MQTTUsername:         strings.TrimSpace(os.Getenv("MQTT_USERNAME")),
		MQTTPassword:         os.Getenv("MQTT_PASSWORD"),
		MQTTBufferSize:       mqttBufferSize,
		Driver:               driver,
		DSN:                  dsn,
		Path:                 path,
		LogSQL:               logSQL,
		MaxOpenConns:         maxOpenConns,
		MaxIdleConns:         maxIdleConns,
		ConnMaxLifetime:      connMaxLifetime,
		CloudSyncMaxAttempts: maxAttempts,
		CloudSyncRetryDelay:  retryDelay,
	}

	return cfg, nil
}

func parseSinks(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = SinkGATT
	}

	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		s := strings.ToLower(strings.TrimSpace(part))
		if s == "" {
			continue
		}
		switch s {
		case SinkGATT, SinkBlueZ, SinkMQTT, SinkCloud:
		default:
			return nil, fmt.Errorf("invalid SINKS entry %q (allowed: gatt, bluez, mqtt, cloud)", s)
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("invalid SINKS %q: no sink selected", raw)
	}
	if seen[SinkGATT] && seen[SinkBlueZ] {
		return nil, fmt.Errorf("invalid SINKS %q: gatt and bluez both own the peripheral service", raw)
	}
	return out, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
