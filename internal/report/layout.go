package report

import "caixa/internal/aggregate"

func chart(g aggregate.Granularity) *aggregate.Granularity {
	return &g
}

// DefaultLayout is the cash flow, purchases, payables and sales dashboard.
// Every metric and granularity it names is registered in the default catalog.
func DefaultLayout() []SectionSpec {
	week := aggregate.LastNDays(7)
	year := aggregate.LastNMonths(12)

	return []SectionSpec{
		{
			Name: "Cash flow",
			Panels: []PanelSpec{
				{Title: "Balance", Metric: "cash.balance", Granularity: aggregate.Total, Chart: chart(week)},
				{Title: "Credits", Metric: "cash.credits", Granularity: aggregate.Total, Chart: chart(week)},
				{Title: "Debits", Metric: "cash.debits", Granularity: aggregate.Total, Chart: chart(week)},
				{Title: "Net today", Metric: "cash.balance", Granularity: aggregate.Day, Chart: chart(aggregate.Hourly)},
				{Title: "In today", Metric: "cash.credits", Granularity: aggregate.Day, Chart: chart(aggregate.Hourly)},
				{Title: "Out today", Metric: "cash.debits", Granularity: aggregate.Day, Chart: chart(aggregate.Hourly)},
				{Title: "Net this month", Metric: "cash.balance", Granularity: aggregate.Month, Chart: chart(aggregate.Daily)},
			},
		},
		{
			Name: "Purchases",
			Panels: []PanelSpec{
				{Title: "Purchases today", Metric: "purchases.total", Granularity: aggregate.Day, Chart: chart(aggregate.Hourly)},
				{Title: "Purchases this month", Metric: "purchases.total", Granularity: aggregate.Month, Chart: chart(aggregate.Daily)},
				{Title: "Total purchases", Metric: "purchases.total", Granularity: aggregate.Total, Chart: chart(year)},
				{Title: "Purchases made this month", Metric: "purchases.count", Granularity: aggregate.Month, Count: true},
			},
		},
		{
			Name: "Payables",
			Panels: []PanelSpec{
				{Title: "Due today", Metric: "payables.open", Granularity: aggregate.Day, Chart: chart(week)},
				{Title: "Due this month", Metric: "payables.open", Granularity: aggregate.Month, Chart: chart(aggregate.Daily)},
				{Title: "Total open", Metric: "payables.open", Granularity: aggregate.Total, Chart: chart(year)},
				{Title: "Installments due this month", Metric: "payables.open.count", Granularity: aggregate.Month, Count: true},
			},
		},
		{
			Name: "Sales",
			Panels: []PanelSpec{
				{Title: "Sales today", Metric: "sales.total", Granularity: aggregate.Day, Chart: chart(week)},
				{Title: "Sales this month", Metric: "sales.total", Granularity: aggregate.Month, Chart: chart(aggregate.Daily)},
				{Title: "Total sales", Metric: "sales.total", Granularity: aggregate.Total, Chart: chart(aggregate.Monthly)},
				{Title: "Sales made this month", Metric: "sales.count", Granularity: aggregate.Month, Count: true},
				{Title: "Top 10 customers", Metric: "sales.by_customer", Granularity: aggregate.Total},
			},
		},
	}
}
