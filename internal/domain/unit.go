package domain

// FetchUnit 是一次抓取工作单元。City 为空表示该 source 按日期整体抓取（不区分城市）。
type FetchUnit struct {
	Source string
	City   City
	Date   string
}

func (u FetchUnit) Label() string {
	if u.City == "" {
		return u.Source + "/" + u.Date
	}
	return u.Source + "/" + string(u.City) + "/" + u.Date
}
