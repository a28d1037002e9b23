package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/conference-central/internal/model"
	"github.com/Shivanand-hulikatti/conference-central/internal/query"
)

func TestBuildConferenceQuery_DefaultOrders(t *testing.T) {
	q, err := BuildConferenceQuery(model.ConferenceQueryForm{
		Filters: []model.QueryFilter{
			{Field: model.FieldMonth, Operator: model.OpLT, Value: "7"},
			{Field: model.FieldCity, Operator: model.OpEQ, Value: "Tokyo"},
		},
		Limit: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, model.KindConference, q.Kind)
	assert.Equal(t, []query.Order{{Property: "month"}, {Property: "name"}}, q.Orders)
	assert.Equal(t, query.Filter{Property: "month", Op: query.LT, Value: 7}, q.Filters[0])
	assert.Equal(t, query.Filter{Property: "city", Op: query.EQ, Value: "Tokyo"}, q.Filters[1])
	assert.Equal(t, 10, q.Limit)
}

func TestBuildConferenceQuery_ExplicitOrders(t *testing.T) {
	q, err := BuildConferenceQuery(model.ConferenceQueryForm{
		Filters: []model.QueryFilter{{Field: model.FieldTopic, Operator: model.OpEQ, Value: "Go"}},
		Orders:  []string{"-startDate", "name"},
	})
	require.NoError(t, err)
	assert.Equal(t, []query.Order{{Property: "startDate", Descending: true}, {Property: "name"}}, q.Orders)
}

func TestBuildConferenceQuery_NegativeLimit(t *testing.T) {
	_, err := BuildConferenceQuery(model.ConferenceQueryForm{Limit: -1})
	assert.Error(t, err)
}
