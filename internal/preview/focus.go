package preview

import "camctl/internal/device"

// live はセッションがまだ有効かを確認する
// タイマー発火とすべての完了通知で共有するガード
func (c *Controller) live(session string) bool {
	return c.dev != nil && c.state == StatePreviewing && session != "" && session == c.session
}

// focusLive はフォーカスループを続けてよいかを確認する
func (c *Controller) focusLive(session string) bool {
	return c.live(session) && c.autoFocus && c.surfaceReady
}

// startFocusLoop はプレビュー開始時にフォーカスループを始める
func (c *Controller) startFocusLoop() {
	if !c.autoFocus {
		return
	}
	if c.surfaceReady {
		c.attemptFocus()
		return
	}
	c.scheduleFocus()
}

// attemptFocus はオートフォーカスを1回発行する
// ハードウェアの実行時エラーは握りつぶして次回を予約する
func (c *Controller) attemptFocus() {
	ch, err := c.dev.AutoFocus(c.ctx)
	if err != nil {
		c.logger.Debugw("オートフォーカスに失敗したため再試行します", "session", c.session, "error", err)
		c.scheduleFocus()
		return
	}
	c.focus = &focusAttempt{session: c.session, ch: ch}
}

// onFocusResult はオートフォーカスの完了を処理する
// 成功していれば撮影を発行し、結果にかかわらず次回を予約する
func (c *Controller) onFocusResult(res device.FocusResult) {
	attempt := c.focus
	c.focus = nil
	if attempt == nil || !c.focusLive(attempt.session) {
		c.logger.Debugw("停止後に届いたフォーカス結果を破棄しました")
		return
	}

	if res.Succeeded() {
		c.triggerShot()
	}
	c.scheduleFocus()
}

// scheduleFocus は一定時間後のフォーカス試行を予約する。予約は常に1つだけ
func (c *Controller) scheduleFocus() {
	c.cancelFocus()
	if c.dev == nil || c.state != StatePreviewing || !c.autoFocus {
		return
	}

	c.focusTimer = c.clock.Timer(c.interval)
	c.focusSession = c.session
}

// cancelFocus は予約済みのフォーカス試行を取り消す
func (c *Controller) cancelFocus() {
	if c.focusTimer != nil {
		c.focusTimer.Stop()
		c.focusTimer = nil
	}
	c.focusSession = ""
}

// onFocusTimer は予約したフォーカス試行を、条件を再確認した上で実行する
func (c *Controller) onFocusTimer() {
	session := c.focusSession
	c.focusTimer = nil
	c.focusSession = ""

	if !c.focusLive(session) {
		return
	}
	c.attemptFocus()
}

// triggerShot はフォーカス成功時に静止画を1枚撮影する
// 前の撮影や呼び出し側の撮影が終わっていなければ見送る
func (c *Controller) triggerShot() {
	if c.shot != nil || c.capture != nil {
		c.logger.Debugw("撮影中のためフォーカス後の撮影を見送りました", "session", c.session)
		return
	}
	ch, err := c.dev.TakePicture(c.ctx)
	if err != nil {
		c.logger.Debugw("フォーカス後の撮影に失敗", "session", c.session, "error", err)
		return
	}
	c.shot = &shotAttempt{session: c.session, ch: ch}
}

// onShotResult はフォーカスループの撮影結果をコールバックに渡す
func (c *Controller) onShotResult(res device.PictureResult) {
	shot := c.shot
	c.shot = nil
	if shot == nil || !c.live(shot.session) {
		c.logger.Debugw("停止後に届いた撮影結果を破棄しました")
		return
	}

	if res.Err != nil {
		c.logger.Debugw("フォーカス後の撮影に失敗", "session", shot.session, "error", res.Err)
		return
	}
	if c.onPicture != nil {
		c.onPicture(res)
	}
}

// setAutoFocus はフォーカスループの有効・無効を切り替える
func (c *Controller) setAutoFocus(enabled bool) {
	c.autoFocus = enabled
	if !enabled {
		c.cancelFocus()
		return
	}

	if c.focus != nil && c.focus.session != c.session {
		c.focus = nil
	}
	if c.state == StatePreviewing && c.focus == nil && c.focusTimer == nil {
		c.startFocusLoop()
	}
}
