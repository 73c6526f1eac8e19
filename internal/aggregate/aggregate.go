package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aniket17200/Profitfirst/internal/models"
	"github.com/Aniket17200/Profitfirst/internal/normalize"
)

var hundred = decimal.NewFromInt(100)

type productAcc struct {
	id    string
	name  string
	units int
	total decimal.Decimal
}

// Aggregate folds one snapshot of source data into a Result. It never fails:
// missing sources contribute zeros, orders and shipments outside the range are
// ignored and unknown product costs count as zero.
func Aggregate(in Input) *Result {
	days := in.Range.Days()
	res := &Result{
		Range:        in.Range,
		Daily:        make([]DailyBucket, len(days)),
		ShipmentList: []models.RawShipment{},
		BestSelling:  []ProductSales{},
		LeastSelling: []ProductSales{},
	}

	index := make(map[string]int, len(days))
	for i, d := range days {
		key := normalize.DayKey(d)
		index[key] = i
		res.Daily[i] = DailyBucket{Date: key, Label: normalize.DayLabel(d)}
	}

	dailyAdSpend, hasDailyAds := seedAdSpend(in, index, res)
	shippingCost := seedShipping(in, index, res)

	var (
		totalRevenue decimal.Decimal
		totalCOGS    decimal.Decimal
		totalOrders  int
		products     []*productAcc
		customerSeq  []string
	)
	productIndex := make(map[string]*productAcc)
	customerDays := make(map[string][]time.Time)

	for _, order := range in.Orders {
		i, ok := index[normalize.DayKey(order.CreatedAt)]
		if !ok {
			res.IgnoredOrders++
			continue
		}

		bucket := &res.Daily[i]
		bucket.Orders++
		bucket.Revenue = bucket.Revenue.Add(order.TotalAmount)
		totalRevenue = totalRevenue.Add(order.TotalAmount)
		totalOrders++

		orderCOGS := decimal.Zero
		for _, item := range order.LineItems {
			if item.ProductID == "" {
				continue
			}
			cost := in.ProductCosts[item.ProductID]
			orderCOGS = orderCOGS.Add(cost.Mul(decimal.NewFromInt(int64(item.Quantity))))

			acc, seen := productIndex[item.ProductID]
			if !seen {
				name := item.Title
				if name == "" {
					name = "Unknown"
				}
				acc = &productAcc{id: item.ProductID, name: name}
				productIndex[item.ProductID] = acc
				products = append(products, acc)
			}
			acc.units += item.Quantity
			acc.total = acc.total.Add(order.TotalAmount)
		}
		bucket.COGS = bucket.COGS.Add(orderCOGS)
		totalCOGS = totalCOGS.Add(orderCOGS)

		if order.CustomerID != "" {
			if _, seen := customerDays[order.CustomerID]; !seen {
				customerSeq = append(customerSeq, order.CustomerID)
			}
			customerDays[order.CustomerID] = append(customerDays[order.CustomerID], order.CreatedAt)
		}
	}

	res.Customers = classifyCustomers(customerSeq, customerDays, index, res.Daily)

	for i := range res.Daily {
		b := &res.Daily[i]
		b.TotalCosts = b.AdSpend.Add(b.ShippingCost).Add(b.COGS)
		b.NetProfit = b.Revenue.Sub(b.TotalCosts)
		b.NetProfitMargin = percent(b.NetProfit, b.Revenue)
	}

	adSpend := dailyAdSpend
	if !hasDailyAds && in.Ads != nil && in.Ads.Overview != nil {
		adSpend = in.Ads.Overview.Spend
	}

	res.Summary = summarize(totalOrders, totalRevenue, totalCOGS, adSpend, shippingCost, in.Ads)
	res.BestSelling, res.LeastSelling = rankProducts(products)
	res.Marketing = marketing(in.Ads, index)
	return res
}

// seedAdSpend copies daily ad spend into buckets and returns the in-range sum.
func seedAdSpend(in Input, index map[string]int, res *Result) (decimal.Decimal, bool) {
	total := decimal.Zero
	if in.Ads == nil || len(in.Ads.Daily) == 0 {
		return total, false
	}

	for _, d := range in.Ads.Daily {
		i, ok := adDayIndex(d.Date, index)
		if !ok {
			continue
		}
		res.Daily[i].AdSpend = res.Daily[i].AdSpend.Add(d.Spend)
		total = total.Add(d.Spend)
	}
	return total, true
}

func adDayIndex(date string, index map[string]int) (int, bool) {
	if i, ok := index[date]; ok {
		return i, true
	}
	t, err := normalize.ParseTimestamp(date)
	if err != nil {
		return 0, false
	}
	i, ok := index[normalize.DayKey(t)]
	return i, ok
}

// seedShipping buckets in-range shipment costs by IST order day, tallies
// statuses and returns the total cost.
func seedShipping(in Input, index map[string]int, res *Result) decimal.Decimal {
	total := decimal.Zero
	for _, s := range in.Shipments {
		i, ok := index[normalize.DayKey(s.OrderDate)]
		if !ok {
			continue
		}
		cost := s.Cost()
		res.Daily[i].ShippingCost = res.Daily[i].ShippingCost.Add(cost)
		total = total.Add(cost)
		res.ShipmentList = append(res.ShipmentList, s)

		res.Shipments.Total++
		switch s.Status {
		case models.ShipmentDelivered:
			res.Shipments.Delivered++
		case models.ShipmentInTransit:
			res.Shipments.InTransit++
		case models.ShipmentRTO:
			res.Shipments.RTO++
		case models.ShipmentNDR:
			res.Shipments.NDR++
		default:
			res.Shipments.Other++
		}
	}
	return total
}

// classifyCustomers tags each customer's first IST day as new and every later
// distinct day as returning. Customers seen on one day only count as new.
func classifyCustomers(seq []string, days map[string][]time.Time, index map[string]int, buckets []DailyBucket) CustomerBreakdown {
	var cb CustomerBreakdown
	for _, id := range seq {
		dates := days[id]
		sort.SliceStable(dates, func(a, b int) bool { return dates[a].Before(dates[b]) })

		var distinct []string
		seen := make(map[string]bool)
		for _, t := range dates {
			key := normalize.DayKey(t)
			if !seen[key] {
				seen[key] = true
				distinct = append(distinct, key)
			}
		}

		if i, ok := index[distinct[0]]; ok {
			buckets[i].NewCustomers++
		}
		if len(distinct) > 1 {
			cb.Returning++
			for _, key := range distinct[1:] {
				if i, ok := index[key]; ok {
					buckets[i].ReturningCustomers++
				}
			}
		} else {
			cb.New++
		}
	}

	cb.Total = cb.New + cb.Returning
	cb.ReturningRate = percent(decimal.NewFromInt(int64(cb.Returning)), decimal.NewFromInt(int64(cb.Total)))
	return cb
}

func summarize(orders int, revenue, cogs, adSpend, shipping decimal.Decimal, ads *models.AdReport) Summary {
	gross := revenue.Sub(cogs)
	net := gross.Sub(adSpend).Sub(shipping)

	s := Summary{
		TotalOrders:  orders,
		TotalRevenue: revenue,
		TotalCOGS:    cogs,
		GrossProfit:  gross,
		AdSpend:      adSpend,
		ShippingCost: shipping,
		NetProfit:    net,
		GrossMargin:  percent(gross, revenue),
		NetMargin:    percent(net, revenue),
		ROAS:         decimal.Zero,
		POAS:         ratio(net, adSpend),
		AOV:          decimal.Zero,
		CPP:          decimal.Zero,
	}
	if orders > 0 {
		n := decimal.NewFromInt(int64(orders))
		s.AOV = revenue.Div(n)
		s.CPP = adSpend.Div(n)
	}
	if ads != nil && ads.Overview != nil && ads.Overview.PurchaseROAS != nil {
		s.ROAS = decimal.NewFromFloat(*ads.Overview.PurchaseROAS)
	}
	return s
}

// rankProducts sorts by units sold, keeping first-seen order on ties.
func rankProducts(products []*productAcc) ([]ProductSales, []ProductSales) {
	sorted := make([]*productAcc, len(products))
	copy(sorted, products)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].units > sorted[b].units })

	n := len(sorted)
	bestN := n
	if bestN > RankingSize {
		bestN = RankingSize
	}

	best := make([]ProductSales, 0, bestN)
	for i := 0; i < bestN; i++ {
		best = append(best, toProductSales(sorted[i], i+1))
	}

	least := make([]ProductSales, 0, bestN)
	for i := n - 1; i >= n-bestN; i-- {
		least = append(least, toProductSales(sorted[i], RankingSize+len(least)+1))
	}
	return best, least
}

func toProductSales(p *productAcc, rank int) ProductSales {
	return ProductSales{
		Rank:      rank,
		ProductID: p.id,
		Name:      p.name,
		UnitsSold: p.units,
		Revenue:   p.total,
	}
}

func marketing(ads *models.AdReport, index map[string]int) Marketing {
	m := Marketing{CPC: decimal.Zero, CPM: decimal.Zero, Daily: []models.RawAdDaily{}}
	if ads == nil {
		return m
	}
	if o := ads.Overview; o != nil {
		m.Clicks = o.Clicks
		m.Impressions = o.Impressions
		m.Reach = o.Reach
		m.CPC = o.CPC
		m.CPM = o.CPM
		m.CTR = o.CTR
	}
	for _, d := range ads.Daily {
		if _, ok := adDayIndex(d.Date, index); ok {
			m.Daily = append(m.Daily, d)
		}
	}
	return m
}

// percent is part/whole*100, or 0 when whole is 0.
func percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}

func ratio(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den)
}
