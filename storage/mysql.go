package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/classguard/monitor/logger"
	"github.com/classguard/monitor/model"
)

// MySQLStorage persists readings in a MySQL sensor_data table.
type MySQLStorage struct {
	db       *sql.DB
	dsn      string
	database string
}

// NewMySQLStorage connects to MySQL, creating the database and schema when
// missing.
func NewMySQLStorage(dsn string) (*MySQLStorage, error) {
	database, serverDSN, err := parseMySQLDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse MySQL DSN: %v", err)
	}

	serverDB, err := sql.Open("mysql", serverDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL server: %v", err)
	}
	defer serverDB.Close()

	if _, err = serverDB.Exec(createDatabaseStmt(database)); err != nil {
		return nil, fmt.Errorf("failed to create database: %v", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL database: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("MySQL connection test failed: %v", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Minute * 5)

	storage := &MySQLStorage{
		db:       db,
		dsn:      dsn,
		database: database,
	}

	if err := storage.InitDatabase(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize MySQL schema: %v", err)
	}

	logger.Info("MySQL storage initialized")
	return storage, nil
}

// createDatabaseStmt builds the CREATE DATABASE statement. The name comes out
// of the DSN, so it is backtick-quoted rather than interpolated bare.
func createDatabaseStmt(database string) string {
	return fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", database)
}

// parseMySQLDSN extracts the database name and a server-level DSN from a
// go-sql-driver DSN of the form user:pass@tcp(host:port)/dbname?params.
func parseMySQLDSN(dsn string) (database string, serverDSN string, err error) {
	slash := strings.LastIndex(dsn, "/")
	if slash == -1 {
		return "", "", fmt.Errorf("invalid DSN, cannot extract database name")
	}

	tail := dsn[slash+1:]
	params := ""
	if q := strings.Index(tail, "?"); q != -1 {
		params = tail[q:]
		tail = tail[:q]
	}
	if tail == "" {
		return "", "", fmt.Errorf("invalid DSN, cannot extract database name")
	}

	return tail, dsn[:slash+1] + params, nil
}

// InitDatabase creates the sensor_data table and its indexes.
func (ms *MySQLStorage) InitDatabase() error {
	tableSQL := `
	CREATE TABLE IF NOT EXISTS sensor_data (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		device_id VARCHAR(50) NOT NULL,
		temperature DOUBLE,
		humidity DOUBLE,
		co2 DOUBLE,
		light DOUBLE,
		noise DOUBLE,
		aqi DOUBLE,
		class_score INT,
		status VARCHAR(50),
		timestamp DATETIME(3) NOT NULL,
		created_at DATETIME(3) DEFAULT CURRENT_TIMESTAMP(3),
		INDEX idx_sensor_data_device_id (device_id),
		INDEX idx_sensor_data_timestamp (timestamp)
	)`

	if _, err := ms.db.Exec(tableSQL); err != nil {
		return fmt.Errorf("failed to create sensor_data table: %v", err)
	}

	logger.Info("MySQL schema initialized")
	return nil
}

// Name implements Backend.
func (ms *MySQLStorage) Name() string { return "mysql" }

// Store inserts one reading.
func (ms *MySQLStorage) Store(reading model.SensorReading) error {
	insertSQL := `INSERT INTO sensor_data
		(device_id, temperature, humidity, co2, light, noise, aqi, class_score, status, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := ms.db.Exec(insertSQL,
		reading.DeviceID, reading.Temperature, reading.Humidity, reading.CO2,
		reading.Light, reading.Noise, reading.AQI, reading.ClassScore,
		reading.Status, reading.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %v", err)
	}

	logger.Debug("stored reading from %s in MySQL", reading.DeviceID)
	return nil
}

// Latest implements Querier.
func (ms *MySQLStorage) Latest() (model.SensorReading, error) {
	row := ms.db.QueryRow(`SELECT device_id, temperature, humidity, co2, light, noise, aqi, class_score, status, timestamp
		FROM sensor_data ORDER BY timestamp DESC LIMIT 1`)
	return scanReading(row)
}

// History implements Querier.
func (ms *MySQLStorage) History(q HistoryQuery) ([]model.SensorReading, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	rows, err := ms.db.Query(`SELECT device_id, temperature, humidity, co2, light, noise, aqi, class_score, status, timestamp
		FROM sensor_data WHERE timestamp >= ? AND timestamp < ?
		ORDER BY timestamp DESC LIMIT ?`, q.From, q.To, limit)
	if err != nil {
		return nil, fmt.Errorf("history query failed: %v", err)
	}
	defer rows.Close()

	return collectReadings(rows)
}

// Close implements Backend.
func (ms *MySQLStorage) Close() error {
	return ms.db.Close()
}
