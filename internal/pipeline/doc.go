// Package pipeline provides the default conversation.Pipeline: a
// deterministic keyword router standing in for an LLM agent swarm.
//
// Every turn enters at the researcher. When the message matches a
// specialist's keywords the researcher hands off and the specialist
// answers using capability calls made through the tool client:
//
//	qualification_agent  crm lead lookup, qualificar_lead
//	presentation_agent   recomendar_produtos
//	negotiation_agent    calcular_preco_personalizado
//	closing_agent        concluir_compra
//	researcher           get_products
//
// A message that matches nothing stays with the previous specialist. Each
// turn also records a stage_entry analytics event. Token usage is
// approximated by word count.
package pipeline
