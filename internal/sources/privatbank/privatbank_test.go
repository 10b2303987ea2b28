package privatbank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/httpx"
	"github.com/dvloznov/donation-tracker/internal/watermark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var watermarkAt = time.Date(2022, 8, 1, 12, 0, 0, 0, time.UTC)

func tx(id, typ, narrative, at, ccy, counterparty string, sum any) map[string]any {
	return map[string]any{
		"ID":                     id,
		"TRANTYPE":               typ,
		"OSND":                   narrative,
		"DATE_TIME_DAT_OD_TIM_P": at,
		"CCY":                    ccy,
		"AUT_CNTR_NAM":           counterparty,
		"SUM":                    sum,
	}
}

func statementFixture() []map[string]any {
	return []map[string]any{
		tx("1", "C", "Donation", "01.08.2022 09:00:00", "UAH", "Earlier Same Day", "10.00"),
		tx("2", "C", "Donation", "01.08.2022 12:00:00", "UAH", "Already Stored", "20.00"),
		tx("3", "C", "Благодійний внесок, mail me at donor@example.com", "01.08.2022 13:00:00", "UAH", "Іван Франко", "500.00"),
		tx("4", "D", "Комісія банку", "01.08.2022 13:30:00", "UAH", "ПриватБанк", "5.00"),
		tx("5", "C", "Гривнi вiд продажу валюти", "01.08.2022 14:00:00", "UAH", "ПриватБанк", "4100.00"),
		tx("6", "C", "Зарахування", "01.08.2022 15:00:00", "UAH", "Транз.рах. 2924", 300),
		tx("7", "C", "From John 1/Smith London", "01.08.2022 16:00:00", "USD", "SWIFT", "100.00"),
		tx("8", "C", "SWIFT John Smith London", "01.08.2022 16:00:00", "USD", "SWIFT", "100.00"),
		tx("9", "C", "Donation", "03.08.2022 09:00:00", "UAH", "After Window", "1.00"),
	}
}

func newServer(t *testing.T, pages ...[]map[string]any) (*httptest.Server, *[]string) {
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/statements/transactions", r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get("token"))
		queries = append(queries, r.URL.RawQuery)

		page := len(queries) - 1
		json.NewEncoder(w).Encode(map[string]any{
			"status":          "SUCCESS",
			"exist_next_page": page < len(pages)-1,
			"next_page_id":    "next",
			"transactions":    pages[page],
		})
	}))
	return srv, &queries
}

func newAdapter(url string) *Adapter {
	return New(Config{
		BaseURL:          url,
		Token:            "tok",
		Limit:            100,
		ExcludedMarkers:  []string{"Гривнi вiд продажу"},
		DomesticCurrency: "UAH",
		LocalCountry:     "UA",
	}, httpx.New("privatbank"))
}

func window(cold bool) watermark.Window {
	return watermark.Window{Start: watermarkAt, End: time.Date(2022, 8, 2, 0, 0, 0, 0, time.UTC), ColdStart: cold}
}

func TestFetch_WarmWindow(t *testing.T) {
	srv, queries := newServer(t, statementFixture())
	defer srv.Close()

	records, err := newAdapter(srv.URL).Fetch(context.Background(), window(false))
	require.NoError(t, err)

	require.Len(t, *queries, 1)
	assert.Equal(t, "limit=100&startDate=01-08-2022", (*queries)[0])

	require.Len(t, records, 3)

	ivan := records[0]
	assert.Equal(t, "Іван Франко", domain.Deref(ivan.SenderName))
	assert.Equal(t, "donor@example.com", domain.Deref(ivan.SenderEmail))
	assert.Equal(t, "UA", domain.Deref(ivan.CountryCode))
	assert.Equal(t, 500.0, ivan.AmountOriginal)
	assert.Equal(t, "UAH", ivan.Currency)
	assert.Equal(t, time.Date(2022, 8, 1, 13, 0, 0, 0, time.UTC), ivan.Datetime)

	transit := records[1]
	assert.Nil(t, transit.SenderName, "transit accounts have no sender")
	assert.Equal(t, "UA", domain.Deref(transit.CountryCode))
	assert.Equal(t, 300.0, transit.AmountOriginal)

	swift := records[2]
	assert.Equal(t, "John Smith", domain.Deref(swift.SenderName))
	assert.Nil(t, swift.CountryCode)
	assert.Equal(t, "USD", swift.Currency)
	assert.Equal(t, "From John 1/Smith London", swift.SenderNote)
}

func TestFetch_ColdStartKeepsEarlierRecords(t *testing.T) {
	srv, _ := newServer(t, statementFixture())
	defer srv.Close()

	records, err := newAdapter(srv.URL).Fetch(context.Background(), window(true))
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, "Earlier Same Day", domain.Deref(records[0].SenderName))
	assert.Equal(t, "Already Stored", domain.Deref(records[1].SenderName))
}

func TestFetch_FollowsPages(t *testing.T) {
	all := statementFixture()
	srv, queries := newServer(t, all[:4], all[4:])
	defer srv.Close()

	records, err := newAdapter(srv.URL).Fetch(context.Background(), window(false))
	require.NoError(t, err)
	assert.Len(t, records, 3)
	require.Len(t, *queries, 2)
	assert.Contains(t, (*queries)[1], "followId=next")
}

func TestFetch_MalformedDate(t *testing.T) {
	srv, _ := newServer(t, []map[string]any{tx("1", "C", "Donation", "2022-08-01 13:00", "UAH", "X", "1.00")})
	defer srv.Close()

	_, err := newAdapter(srv.URL).Fetch(context.Background(), window(false))
	assert.ErrorIs(t, err, domain.ErrProvider)
}
