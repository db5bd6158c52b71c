package prompt

import "github.com/bryanwahyu/contract-risk/internal/domain/analysis"

// review focus per contract type
var typeHints = map[analysis.Category]string{
	analysis.CategoryGeneral: "主体资格与签署权限、标的与价款、付款节点、履行期限、违约责任是否对等、" +
		"解除与终止条件、争议解决方式与管辖地、通知送达条款。",
	analysis.CategoryMarriage: "婚前与婚后财产的界定、共同债务的承担、房产与存款的归属、" +
		"子女抚养与探视安排、财产分割比例、协议生效条件与公证要求。",
	analysis.CategoryHouseSale: "产权是否清晰（抵押、查封、共有人同意）、定金与首付的性质和退还条件、" +
		"贷款失败的处理、过户与交房时间、税费承担、户口迁出、逾期违约金比例。",
	analysis.CategoryVehicleSale: "车辆来源与权属、是否存在抵押或违章未处理、事故与泡水车的披露责任、" +
		"过户时限与费用、交付状态约定、质量异议期与退车条件。",
	analysis.CategoryLease: "租金与押金金额、押金退还条件与扣除标准、维修责任划分、" +
		"提前退租与转租规则、租金上涨机制、水电物业费用承担、续租优先权。",
	analysis.CategoryEmployment: "试用期长度与工资、工作地点与岗位调整权、加班与工时制度、" +
		"社保公积金缴纳基数、竞业限制范围与补偿、培训服务期违约金、解除合同的经济补偿。",
	analysis.CategoryNDA: "保密信息的定义范围是否过宽、保密期限、例外情形、" +
		"违约金是否过高、是否夹带竞业限制或知识产权归属条款。",
	analysis.CategoryService: "服务或采购范围与验收标准、交付期限、付款条件与发票、" +
		"质量保证期、知识产权归属、责任上限、单方变更或解除的权利。",
}

// Hint returns the review focus for c; unknown types share the general focus.
func Hint(c analysis.Category) string {
	if h, ok := typeHints[c]; ok {
		return h
	}
	return typeHints[analysis.CategoryGeneral]
}
