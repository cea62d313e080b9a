package utils

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"klineCrawler/internal/domain"
)

var csvHeader = []string{
	"symbol", "open_time", "close_time", "open", "high", "low", "close", "volume",
	"quote_asset_volume", "number_of_trades", "taker_buy_base_volume", "taker_buy_quote_volume",
}

func WriteKlinesToCSV(symbol string, klines []domain.Kline, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, k := range klines {
		writer.Write([]string{
			symbol,
			k.OpenAt().UTC().Format(time.RFC3339Nano),
			k.CloseAt().UTC().Format(time.RFC3339Nano),
			formatFloat(k.OpenPrice),
			formatFloat(k.HighPrice),
			formatFloat(k.LowPrice),
			formatFloat(k.ClosePrice),
			formatFloat(k.Volume),
			formatFloat(k.QuoteAssetVolume),
			strconv.FormatInt(k.NumberOfTrades, 10),
			formatFloat(k.TakerBuyBaseVolume),
			formatFloat(k.TakerBuyQuoteVolume),
		})
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
