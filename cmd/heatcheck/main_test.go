package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatcheck/internal/model"
	"github.com/heatcheck/internal/pipeline"
)

const (
	readingsCSV = "№ ОДПУ,Адрес объекта,Тип объекта,Дата текущего показания,\"Текущее потребление, Гкал\",Месяц,Район\n" +
		"M1,ул. Ленина 5,МКД,15.11.2023,0,11,Центральный\n" +
		"M1,ул. Ленина 5,МКД,10.12.2023,0,12,Центральный\n" +
		"M2,ул. Мира 1,Школа,15.12.2023,100,12,Северный\n" +
		"M3,пр. Победы 2,МКД,15.12.2023,200,12,Центральный\n"
	temperatureCSV = "Месяц;Температура\n10-2023;4,5\n11-2023;-3\n"
)

func writeInputs(t *testing.T) (readings, temperature string) {
	t.Helper()
	dir := t.TempDir()
	readings = filepath.Join(dir, "readings.csv")
	temperature = filepath.Join(dir, "temperature.csv")
	require.NoError(t, os.WriteFile(readings, []byte(readingsCSV), 0o644))
	require.NoError(t, os.WriteFile(temperature, []byte(temperatureCSV), 0o644))
	return readings, temperature
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := (&app{}).rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAnalyzeJSON(t *testing.T) {
	readings, temperature := writeInputs(t)

	out, err := execute(t, "analyze", "-r", readings, "-t", temperature, "--json")
	require.NoError(t, err)

	var got struct {
		Summary pipeline.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 4, got.Summary.Records)
	assert.Equal(t, 3, got.Summary.Meters)
	assert.Equal(t, 2, got.Summary.ZeroInHeatingSeason)
}

func TestAnalyzeWritesExport(t *testing.T) {
	readings, _ := writeInputs(t)
	out := filepath.Join(t.TempDir(), "annotated.csv")

	_, err := execute(t, "analyze", "-r", readings, "-o", out)
	require.NoError(t, err)
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestDeviationDistrictFilter(t *testing.T) {
	readings, _ := writeInputs(t)

	out, err := execute(t, "deviation", "-r", readings, "--district", "северный")
	require.NoError(t, err)
	assert.Contains(t, out, "Среднее потребление: 100.00")

	out, err = execute(t, "deviation", "-r", readings, "--year", "1999")
	require.NoError(t, err)
	assert.Contains(t, out, "Нет данных")
}

func TestDetailToStdout(t *testing.T) {
	readings, _ := writeInputs(t)

	out, err := execute(t, "detail", "-r", readings, "--meter", "M1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ул.,M1,ул. Ленина 5,МКД,15.11.2023,0", lines[1])

	_, err = execute(t, "detail", "-r", readings, "--meter", "nope")
	assert.Error(t, err)
}

func TestSeriesRequiresMeter(t *testing.T) {
	readings, _ := writeInputs(t)

	_, err := execute(t, "series", "-r", readings)
	assert.Error(t, err)

	out, err := execute(t, "series", "-r", readings, "--meter", "M1", "--from", "2023-11")
	require.NoError(t, err)
	assert.Contains(t, out, "2023-11")
}

func TestMissingReadingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.csv")

	_, err := execute(t, "analyze", "-r", path)
	require.Error(t, err)
	assert.Equal(t, "Не загружен файл: "+path, userMessage(err))
}

func TestPipelineOverrides(t *testing.T) {
	readings, _ := writeInputs(t)

	_, err := execute(t, "analyze", "-r", readings, "--encoding", "koi8-r")
	assert.Error(t, err)

	_, err = execute(t, "analyze", "-r", readings, "--threshold", "-5")
	assert.Error(t, err, "threshold must stay positive")
}

func TestFilterFlags(t *testing.T) {
	var f filterFlags
	cmd := &cobra.Command{Use: "x"}
	f.register(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--month", "12", "--floors-min", "0", "--hot-water", "да"}))

	filter, err := f.filter(cmd)
	require.NoError(t, err)
	require.NotNil(t, filter.Month)
	assert.Equal(t, 12, *filter.Month)
	require.NotNil(t, filter.Floors.Min)
	assert.Equal(t, 0, *filter.Floors.Min)
	assert.Nil(t, filter.Floors.Max)
	assert.Nil(t, filter.Year)
	assert.Equal(t, pipeline.HotWaterYes, filter.HotWater)

	require.NoError(t, cmd.ParseFlags([]string{"--month", "13"}))
	_, err = f.filter(cmd)
	assert.Error(t, err)
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "Не загружен файл: readings", userMessage(&model.MissingInputError{Input: "readings"}))
	assert.Equal(t, `В файле readings.csv нет столбца "Месяц"`,
		userMessage(&model.MissingColumnError{Input: "readings.csv", Column: "Месяц"}))
	assert.Equal(t, "Error: boom", userMessage(errors.New("boom")))
}

func TestParseMonth(t *testing.T) {
	m, err := parseMonth("")
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = parseMonth("2024-02")
	require.NoError(t, err)
	assert.Equal(t, 2, int(m.Month()))

	_, err = parseMonth("02.2024")
	assert.Error(t, err)
}
