package bls

import (
	"bytes"
	"encoding/json"
	"strings"

	"labordash/internal/model"
)

type envelope struct {
	Status       string           `json:"status"`
	ResponseTime int64            `json:"responseTime"`
	Message      []string         `json:"message"`
	Results      *envelopeResults `json:"Results"`
}

type envelopeResults struct {
	Series []envelopeSeries `json:"series"`
}

type envelopeSeries struct {
	SeriesID string           `json:"seriesID"`
	Data     []envelopeRecord `json:"data"`
}

type envelopeRecord struct {
	Year       flexString `json:"year"`
	Period     string     `json:"period"`
	PeriodName string     `json:"periodName"`
	Value      flexString `json:"value"`
}

// flexString accepts both quoted and bare JSON scalars; the agency quotes
// years and values but mirrors and fixtures do not always.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*s = flexString(value)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}
	*s = flexString(number.String())
	return nil
}

// response is the validated form of an envelope: exactly one of
// successResponse or failureResponse.
type response interface {
	isResponse()
}

type successResponse struct {
	payload model.Payload
}

type failureResponse struct {
	err *BusinessError
}

func (successResponse) isResponse() {}
func (failureResponse) isResponse() {}

func parseResponse(body []byte) response {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return failureResponse{err: &BusinessError{
			Messages: []string{err.Error()},
			Excerpt:  excerpt(strings.TrimSpace(string(body)), businessExcerptLimit),
		}}
	}

	if env.Status != statusSucceeded {
		return failureResponse{err: &BusinessError{
			Status:   env.Status,
			Messages: env.Message,
			Excerpt:  excerpt(serialize(env, body), businessExcerptLimit),
		}}
	}

	payload := model.Payload{Messages: env.Message}
	if env.Results == nil {
		return successResponse{payload: payload}
	}
	payload.Series = make([]model.SeriesPayload, 0, len(env.Results.Series))
	for _, series := range env.Results.Series {
		records := make([]model.RawRecord, 0, len(series.Data))
		for _, item := range series.Data {
			records = append(records, model.RawRecord{
				Year:   string(item.Year),
				Period: item.Period,
				Value:  string(item.Value),
			})
		}
		payload.Series = append(payload.Series, model.SeriesPayload{
			SeriesID: series.SeriesID,
			Records:  records,
		})
	}
	return successResponse{payload: payload}
}

func serialize(env envelope, raw []byte) string {
	encoded, err := json.Marshal(env)
	if err != nil {
		return strings.TrimSpace(string(raw))
	}
	return string(encoded)
}
