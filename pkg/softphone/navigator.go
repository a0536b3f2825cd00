package softphone

// RouteName имя маршрута view-слоя
type RouteName string

const (
	// RouteLine экран активной линии, параметр — lineId
	RouteLine RouteName = "Line"
	// RouteCall экран деталей вызова, параметр — logId
	RouteCall RouteName = "Call"
)

// Route текущий маршрут view-слоя
type Route struct {
	Name  RouteName
	Param string
}

// Navigator контракт навигации, реализуется view-слоем.
//
// Ядро переключает маршруты при входящем вызове, наборе номера и после
// отложенного удаления линии; текущий маршрут читается, чтобы не
// навязывать навигацию, если пользователь уже ушел с экрана линии.
type Navigator interface {
	// Current возвращает текущий маршрут
	Current() Route

	// GoToLine переходит на экран линии
	GoToLine(lineID string)

	// GoToCall переходит на экран деталей вызова
	GoToCall(callID string)
}

// NopNavigator навигатор-заглушка для окружений без view-слоя
type NopNavigator struct{}

func (NopNavigator) Current() Route    { return Route{} }
func (NopNavigator) GoToLine(string)   {}
func (NopNavigator) GoToCall(string)   {}
