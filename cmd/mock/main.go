// mock 模拟票务平台接口，把 provider.showBaseURL 与 provider.apiBaseURL 指向它即可本地联调。
package main

import (
	"encoding/json"
	"log"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

type mockOptions struct {
	successRate float64
	fakeRate    float64
	riskEvery   int
	saleIn      time.Duration
	hot         bool
	idBind      int
}

type platform struct {
	opts      mockOptions
	saleBegin int64
	prepares  atomic.Int64
	orderSeq  atomic.Int64
}

func main() {
	addr := pflag.String("addr", ":8081", "listen address")
	var opts mockOptions
	pflag.Float64Var(&opts.successRate, "success-rate", 0.3, "createV2 成功概率")
	pflag.Float64Var(&opts.fakeRate, "fake-rate", 0.2, "成功订单被判定为假票的概率")
	pflag.IntVar(&opts.riskEvery, "risk-every", 0, "每 N 次 prepare 触发一次风控，0 关闭")
	pflag.DurationVar(&opts.saleIn, "sale-in", 10*time.Second, "距离开售的时间")
	pflag.BoolVar(&opts.hot, "hot", false, "是否为热门项目")
	pflag.IntVar(&opts.idBind, "id-bind", 2, "项目实名类型 0/1/2")
	pflag.Parse()

	p := &platform{opts: opts, saleBegin: time.Now().Add(opts.saleIn).Unix()}
	p.orderSeq.Store(1_000_000)

	mux := http.NewServeMux()
	mux.HandleFunc("/mock/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})
	mux.HandleFunc("/api/ticket/project/getV2", p.project)
	mux.HandleFunc("/api/ticket/buyer/list", p.buyers)
	mux.HandleFunc("/api/ticket/order/prepare", p.prepare)
	mux.HandleFunc("/api/ticket/order/confirmInfo", p.confirm)
	mux.HandleFunc("/api/ticket/order/createV2", p.create)
	mux.HandleFunc("/api/ticket/order/createstatus", p.status)
	mux.HandleFunc("/x/click-interface/click/now", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"code": 0, "data": map[string]any{"now": time.Now().Unix()}})
	})
	mux.HandleFunc("/x/gaia-vgate/v1/register", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"code": 0, "data": map[string]any{
			"type": "geetest",
			"geetest": map[string]any{
				"gt":        "mock_gt_" + uuid.NewString()[:8],
				"challenge": uuid.NewString(),
				"token":     uuid.NewString(),
			},
		}})
	})
	mux.HandleFunc("/x/gaia-vgate/v1/validate", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"code": 0, "data": map[string]any{"is_valid": true}})
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("mock platform listening on %s, sale begins at %s", *addr, time.Unix(p.saleBegin, 0).Format(time.DateTime))
	log.Fatal(srv.ListenAndServe())
}

func (p *platform) project(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	ticket := func(tid int64, desc string, clickable bool) map[string]any {
		return map[string]any{
			"id": tid, "project_id": id, "price": 68000, "desc": desc,
			"screen_name": "第一场", "clickable": clickable,
			"sale_flag": map[string]any{"number": 2, "display_name": "预售中"},
		}
	}
	writeJSON(w, map[string]any{"errno": 0, "data": map[string]any{
		"id": id, "name": "Mock 演唱会", "is_sale": 1,
		"sale_begin": p.saleBegin, "sale_end": p.saleBegin + 86400,
		"id_bind": p.opts.idBind, "hotProject": p.opts.hot,
		"screen_list": []map[string]any{
			{
				"id": 1001, "name": "第一场", "clickable": true, "sale_flag_number": 2,
				"ticket_list": []map[string]any{ticket(5001, "VIP", true), ticket(5002, "看台", true)},
			},
			{
				"id": 1002, "name": "第二场", "clickable": false, "sale_flag_number": 4,
				"ticket_list": []map[string]any{ticket(5003, "VIP", false)},
			},
		},
	}})
}

func (p *platform) buyers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"errno": 0, "data": map[string]any{"list": []map[string]any{
		{"id": 7, "name": "张三", "tel": "138****0000", "personal_id": "3101**********0011", "id_type": 0, "is_default": 1},
	}}})
}

func (p *platform) prepare(w http.ResponseWriter, _ *http.Request) {
	n := p.prepares.Add(1)
	if time.Now().Unix() < p.saleBegin {
		writeJSON(w, map[string]any{"errno": 100041, "msg": "未开售"})
		return
	}
	if p.opts.riskEvery > 0 && n%int64(p.opts.riskEvery) == 0 {
		writeJSON(w, map[string]any{"errno": -401, "msg": "需要验证", "data": map[string]any{
			"ga_data": map[string]any{"riskParams": map[string]any{
				"mid": "42", "decision_type": "1", "buvid": "mock-buvid", "scene": "neul_next",
				"v_voucher": "voucher_" + uuid.NewString()[:8],
			}},
		}})
		return
	}
	writeJSON(w, map[string]any{"errno": 0, "data": map[string]any{
		"token":  "tk_" + uuid.NewString()[:12],
		"ptoken": "pt_" + uuid.NewString()[:12],
	}})
}

func (p *platform) confirm(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"errno": 0, "data": map[string]any{
		"count": 1, "pay_money": 68000, "project_name": "Mock 演唱会", "screen_name": "第一场",
		"ticket_info": map[string]any{"name": "VIP", "count": 1, "price": 68000},
	}})
}

func (p *platform) create(w http.ResponseWriter, _ *http.Request) {
	if rand.Float64() >= p.opts.successRate {
		codes := []int{100009, 100001, 211, 3}
		writeJSON(w, map[string]any{"errno": codes[rand.IntN(len(codes))], "msg": "mock 失败"})
		return
	}
	orderID := p.orderSeq.Add(1)
	token := "pay_" + strconv.FormatInt(orderID, 10)
	if rand.Float64() < p.opts.fakeRate {
		token = "fake_" + strconv.FormatInt(orderID, 10)
	}
	writeJSON(w, map[string]any{"errno": 0, "data": map[string]any{"orderId": orderID, "token": token}})
}

func (p *platform) status(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if len(token) > 5 && token[:5] == "fake_" {
		writeJSON(w, map[string]any{"errno": 100012, "msg": "订单不存在"})
		return
	}
	writeJSON(w, map[string]any{"errno": 0, "data": map[string]any{"payParam": map[string]any{
		"sign": uuid.NewString(), "code_url": "https://pay.mock/" + token,
	}}})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
