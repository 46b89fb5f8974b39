package mafia

// CountAlive 统计存活人数
func CountAlive(players []*Player) (mafia int, town int) {
	for _, p := range players {
		if !p.Alive {
			continue
		}
		if p.Team() == TeamMafia {
			mafia++
		} else {
			town++
		}
	}
	return mafia, town
}

// EvaluateWinner 胜负判定
// 纯函数，无副作用，每回合会在夜晚结算与投票结算后各调用一次。
// 黑手党清零时平民获胜；黑手党人数达到或超过存活平民时黑手党获胜；
// 否则尚无胜者。
func EvaluateWinner(players []*Player) *Team {
	mafia, town := CountAlive(players)
	if mafia == 0 {
		t := TeamTown
		return &t
	}
	if mafia >= town {
		t := TeamMafia
		return &t
	}
	return nil
}
