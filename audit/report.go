package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

func writeMarketsCSV(path string, rows []MarketRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create csv: %w", err)
	}
	defer file.Close()
	out := csv.NewWriter(file)
	header := []string{
		"asset", "total_deposited", "total_borrowed", "utilization",
		"pool_balance", "interest_residue", "active", "operations",
	}
	if err := out.Write(header); err != nil {
		return fmt.Errorf("audit: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Asset,
			row.TotalDeposited,
			row.TotalBorrowed,
			row.Utilization,
			row.PoolBalance,
			row.InterestResidue,
			boolString(row.Active),
			strconv.FormatInt(row.Operations, 10),
		}
		if err := out.Write(record); err != nil {
			return fmt.Errorf("audit: write csv row: %w", err)
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return fmt.Errorf("audit: flush csv: %w", err)
	}
	return nil
}

func writeUsersCSV(path string, rows []UserRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create csv: %w", err)
	}
	defer file.Close()
	out := csv.NewWriter(file)
	header := []string{
		"user", "cached_collateral", "cached_borrowed",
		"actual_collateral", "actual_borrowed", "health_factor", "drift",
	}
	if err := out.Write(header); err != nil {
		return fmt.Errorf("audit: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.User,
			row.CachedCollateral,
			row.CachedBorrowed,
			row.ActualCollateral,
			row.ActualBorrowed,
			row.HealthFactor,
			boolString(row.Drift),
		}
		if err := out.Write(record); err != nil {
			return fmt.Errorf("audit: write csv row: %w", err)
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return fmt.Errorf("audit: flush csv: %w", err)
	}
	return nil
}

type marketParquetRow struct {
	Asset           string `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalDeposited  string `parquet:"name=total_deposited, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalBorrowed   string `parquet:"name=total_borrowed, type=BYTE_ARRAY, convertedtype=UTF8"`
	Utilization     string `parquet:"name=utilization, type=BYTE_ARRAY, convertedtype=UTF8"`
	PoolBalance     string `parquet:"name=pool_balance, type=BYTE_ARRAY, convertedtype=UTF8"`
	InterestResidue string `parquet:"name=interest_residue, type=BYTE_ARRAY, convertedtype=UTF8"`
	Active          bool   `parquet:"name=active, type=BOOLEAN"`
	Operations      int64  `parquet:"name=operations, type=INT64"`
}

type userParquetRow struct {
	User             string `parquet:"name=user, type=BYTE_ARRAY, convertedtype=UTF8"`
	CachedCollateral string `parquet:"name=cached_collateral, type=BYTE_ARRAY, convertedtype=UTF8"`
	CachedBorrowed   string `parquet:"name=cached_borrowed, type=BYTE_ARRAY, convertedtype=UTF8"`
	ActualCollateral string `parquet:"name=actual_collateral, type=BYTE_ARRAY, convertedtype=UTF8"`
	ActualBorrowed   string `parquet:"name=actual_borrowed, type=BYTE_ARRAY, convertedtype=UTF8"`
	HealthFactor     string `parquet:"name=health_factor, type=BYTE_ARRAY, convertedtype=UTF8"`
	Drift            bool   `parquet:"name=drift, type=BOOLEAN"`
}

func writeMarketsParquet(path string, rows []MarketRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(marketParquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		record := &marketParquetRow{
			Asset:           row.Asset,
			TotalDeposited:  row.TotalDeposited,
			TotalBorrowed:   row.TotalBorrowed,
			Utilization:     row.Utilization,
			PoolBalance:     row.PoolBalance,
			InterestResidue: row.InterestResidue,
			Active:          row.Active,
			Operations:      row.Operations,
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audit: close parquet file: %w", err)
	}
	return nil
}

func writeUsersParquet(path string, rows []UserRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(userParquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		record := &userParquetRow{
			User:             row.User,
			CachedCollateral: row.CachedCollateral,
			CachedBorrowed:   row.CachedBorrowed,
			ActualCollateral: row.ActualCollateral,
			ActualBorrowed:   row.ActualBorrowed,
			HealthFactor:     row.HealthFactor,
			Drift:            row.Drift,
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audit: close parquet file: %w", err)
	}
	return nil
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
