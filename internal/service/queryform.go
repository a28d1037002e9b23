package service

import (
	"strconv"

	"github.com/Shivanand-hulikatti/conference-central/internal/apperr"
	"github.com/Shivanand-hulikatti/conference-central/internal/model"
	"github.com/Shivanand-hulikatti/conference-central/internal/query"
)

type fieldSpec struct {
	property string
	numeric  bool
}

var queryFields = map[model.QueryField]fieldSpec{
	model.FieldCity:         {property: "city"},
	model.FieldTopic:        {property: "topics"},
	model.FieldMonth:        {property: "month", numeric: true},
	model.FieldMaxAttendees: {property: "maxAttendees", numeric: true},
}

var queryOperators = map[model.QueryOperator]query.Operator{
	model.OpEQ:   query.EQ,
	model.OpNE:   query.NE,
	model.OpLT:   query.LT,
	model.OpLTEQ: query.LTEQ,
	model.OpGT:   query.GT,
	model.OpGTEQ: query.GTEQ,
}

// sortable lists the conference properties a client may order by.
var sortable = map[string]bool{
	"name":           true,
	"city":           true,
	"topics":         true,
	"month":          true,
	"maxAttendees":   true,
	"seatsAvailable": true,
	"startDate":      true,
	"endDate":        true,
}

// BuildConferenceQuery translates a client search form into a conference query.
// Without explicit orders the result is sorted by the inequality property, if
// any, and then by name.
func BuildConferenceQuery(form model.ConferenceQueryForm) (*query.Query, error) {
	q := query.New(model.KindConference)

	for _, f := range form.Filters {
		spec, ok := queryFields[f.Field]
		if !ok {
			return nil, apperr.ErrInvalidQuery.WithDetail("unknown field %q", f.Field)
		}
		op, ok := queryOperators[f.Operator]
		if !ok {
			return nil, apperr.ErrInvalidQuery.WithDetail("unknown operator %q", f.Operator)
		}
		var value any = f.Value
		if spec.numeric {
			n, err := strconv.Atoi(f.Value)
			if err != nil {
				return nil, apperr.ErrInvalidQuery.WithDetail("%s needs an integer, got %q", f.Field, f.Value)
			}
			value = n
		}
		q.Filter(spec.property, op, value)
	}

	if len(form.Orders) > 0 {
		for _, o := range form.Orders {
			if !sortable[query.ParseOrder(o).Property] {
				return nil, apperr.ErrInvalidQuery.WithDetail("cannot sort by %q", o)
			}
			q.Order(o)
		}
	} else {
		if p := q.InequalityProperty(); p != "" {
			q.Order(p)
		}
		q.Order("name")
	}

	q.WithLimit(form.Limit)
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}
