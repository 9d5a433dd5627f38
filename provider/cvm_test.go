package provider

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zipWithCSV(t *testing.T, name, csv string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create(name)
	require.NoError(t, err)
	_, err = f.Write([]byte(csv))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

const cvmHeader = "TP_FUNDO;CNPJ_FUNDO;DT_COMPTC;VL_TOTAL;VL_QUOTA;VL_PATRIM_LIQ;CAPTC_DIA;RESG_DIA;NR_COTST\n"

func TestCVMGetFunds(t *testing.T) {
	filings := map[string]string{
		"202401": cvmHeader +
			"FI;11.222.333/0001-44;2024-01-02;1000,0;1,50;990,0;10,0;5,0;100\n" +
			"FI;99.888.777/0001-66;2024-01-02;2000,0;2,00;1990,0;0,0;0,0;50\n",
		"202402": cvmHeader +
			"FI;11.222.333/0001-44;2024-02-01;1100,0;1,55;1080,0;20,0;0,0;102\n",
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var month string
		_, err := fmt.Sscanf(r.URL.Path, "/DOC/INF_DIARIO/DADOS/inf_diario_fi_%6s.zip", &month)
		require.NoError(t, err)

		csv, ok := filings[month]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(zipWithCSV(t, "inf_diario_fi_"+month+".csv", csv))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Providers.CVM.BaseURL = server.URL
	cfg.Providers.CVM.StartDate = "2024-01-01"

	p, err := NewCVM(cfg, testLogger())
	require.NoError(t, err)

	funds, err := p.GetFunds(context.Background(), "2024-02-15", []string{"11.222.333/0001-44"})
	require.NoError(t, err)
	require.Len(t, funds, 2)

	assert.Equal(t, "11222333000144", funds[0].CNPJ)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), funds[0].Date)
	assert.Equal(t, 1.50, funds[0].NAV)
	assert.Equal(t, 990.0, funds[0].TotalEquity)
	assert.Equal(t, 100.0, funds[0].Holders)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), funds[1].Date)
}

func TestCVMSkipsUnpublishedMonths(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/DOC/INF_DIARIO/DADOS/inf_diario_fi_202401.zip" {
			w.Write(zipWithCSV(t, "filing.csv", cvmHeader+
				"FI;11.222.333/0001-44;2024-01-02;1000,0;1,50;990,0;10,0;5,0;100\n"))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Providers.CVM.BaseURL = server.URL
	cfg.Providers.CVM.StartDate = "2024-01-01"

	p, err := NewCVM(cfg, testLogger())
	require.NoError(t, err)

	funds, err := p.GetFunds(context.Background(), "2024-03-15", []string{"11222333000144"})
	require.NoError(t, err)
	require.Len(t, funds, 1)
}

func TestCVMNewHeaderVocabulary(t *testing.T) {
	csv := "TP_FUNDO_CLASSE;CNPJ_FUNDO_CLASSE;DT_COMPTC;VL_TOTAL;VL_QUOTA;VL_PATRIM_LIQ;CAPTC_DIA;RESG_DIA;NR_COTST\n" +
		"FI;11.222.333/0001-44;2024-01-02;1000,0;1,50;990,0;10,0;5,0;100\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(zipWithCSV(t, "filing.csv", csv))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Providers.CVM.BaseURL = server.URL
	cfg.Providers.CVM.StartDate = "2024-01-01"

	p, err := NewCVM(cfg, testLogger())
	require.NoError(t, err)

	funds, err := p.GetFunds(context.Background(), "2024-01-15", []string{"11222333000144"})
	require.NoError(t, err)
	require.Len(t, funds, 1)
	assert.Equal(t, "11222333000144", funds[0].CNPJ)
}

func TestCVMDeduplicatesAmendedFilings(t *testing.T) {
	csv := cvmHeader +
		"FI;11.222.333/0001-44;2024-01-02;1000,0;1,50;990,0;10,0;5,0;100\n" +
		"FI;11.222.333/0001-44;2024-01-02;1200,0;1,52;1180,0;10,0;5,0;100\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(zipWithCSV(t, "filing.csv", csv))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Providers.CVM.BaseURL = server.URL
	cfg.Providers.CVM.StartDate = "2024-01-01"

	p, err := NewCVM(cfg, testLogger())
	require.NoError(t, err)

	funds, err := p.GetFunds(context.Background(), "2024-01-15", []string{"11222333000144"})
	require.NoError(t, err)
	require.Len(t, funds, 1)
	// The amended filing with the higher total equity wins.
	assert.Equal(t, 1180.0, funds[0].TotalEquity)
}

func TestCVMEmptyFilterReturnsAllFunds(t *testing.T) {
	csv := cvmHeader +
		"FI;11.222.333/0001-44;2024-01-02;1000,0;1,50;990,0;10,0;5,0;100\n" +
		"FI;99.888.777/0001-66;2024-01-02;2000,0;2,00;1990,0;0,0;0,0;50\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(zipWithCSV(t, "filing.csv", csv))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Providers.CVM.BaseURL = server.URL
	cfg.Providers.CVM.StartDate = "2024-01-01"

	p, err := NewCVM(cfg, testLogger())
	require.NoError(t, err)

	funds, err := p.GetFunds(context.Background(), "2024-01-15", nil)
	require.NoError(t, err)
	require.Len(t, funds, 2)
	assert.Equal(t, "11222333000144", funds[0].CNPJ)
	assert.Equal(t, "99888777000166", funds[1].CNPJ)
}

func TestCVMRejectsTruncatedRows(t *testing.T) {
	cfg := testConfig("http://example.invalid")
	cfg.Providers.CVM.StartDate = "2024-01-01"

	p, err := NewCVM(cfg, testLogger())
	require.NoError(t, err)

	body := []byte(cvmHeader + "FI;11.222.333/0001-44;2024-01-02\n")
	_, err = p.parseFilings(body, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "columns")
}

func TestCVMSkipsGarbledMonth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/DOC/INF_DIARIO/DADOS/inf_diario_fi_202401.zip" {
			w.Write([]byte("not a zip archive"))
			return
		}
		w.Write(zipWithCSV(t, "filing.csv", cvmHeader+
			"FI;11.222.333/0001-44;2024-02-01;1100,0;1,55;1080,0;20,0;0,0;102\n"))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Providers.CVM.BaseURL = server.URL
	cfg.Providers.CVM.StartDate = "2024-01-01"

	p, err := NewCVM(cfg, testLogger())
	require.NoError(t, err)

	funds, err := p.GetFunds(context.Background(), "2024-02-15", []string{"11222333000144"})
	require.NoError(t, err)
	require.Len(t, funds, 1)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), funds[0].Date)
}
