// Package pong 提供一個權威式多人乒乓球遊戲服務器。
//
// 固定數量的遊戲房間各自承載一場雙人實時對局；服務器擁有全部
// 遊戲狀態（球、球拍、比分），以固定頻率推送給雙方，客戶端只
// 發送球拍位置意圖。
//
// # 房間生命週期
//
// 每個房間是一個固定的大廳槽位，獨立走過狀態機：
//   - empty → waiting：第一位玩家佔用 slot 0
//   - waiting → playing：第二位玩家加入，對局與物理循環啟動
//   - playing → playing：對局結束後雙方投票再戰，原地重開
//   - playing → empty：任一方離開或斷線，對局拆除
//
// # 物理與同步
//
// 每個活躍對局由獨立的固定時步循環驅動：積分 → 牆面反射 →
// 球拍反彈 → 得分判定 → 勝負判定。狀態以較低的發送頻率下發，
// 快照攜帶單調遞增序號與時間戳供客戶端對賬。
//
// # 連接與心跳
//
// 每條連接一個帶緩衝的發送隊列，投遞永不阻塞。進程級心跳
// 計時器定期探測所有連接，連續未回應超過上限即強制斷開，
// 清理級聯與正常離開完全一致——玩家絕不會在連接消失後仍被
// 房間引用。
//
// # 組裝方式
//
// 啟動服務器：
//
//	cfg := internal.DefaultConfig()
//	hub := internal.NewHub(cfg, logger)
//	manager := internal.NewManager(cfg, logger, hub)
//	hub.Start(manager)
//
//	mux := http.NewServeMux()
//	mux.Handle("/", internal.NewHandler(manager, hub, logger).Routes())
//	mux.HandleFunc("/ws", hub.ServeWS)
//	log.Fatal(http.ListenAndServe(":8080", mux))
//
// 所有狀態都掛在顯式的實例上，測試可以並行建立多個互不干擾的
// 服務器。
package pong
